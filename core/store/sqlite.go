package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roadcall/dispatchd/core/faults"
	"github.com/roadcall/dispatchd/core/model"
)

// SQLiteStore persists incidents and offers to a SQLite database.
// Records are stored as JSON documents with the columns the conditional
// writes and scheduler queries need promoted alongside.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Serialize access through one connection; SQLite allows a single
	// writer and this keeps concurrent claims from surfacing as busy
	// errors instead of conflicts.
	db.SetMaxOpenConns(1)
	schema := `CREATE TABLE IF NOT EXISTS incidents (
        id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        assigned_vendor_id TEXT NOT NULL DEFAULT '',
        version INTEGER NOT NULL,
        waiting_until INTEGER NOT NULL DEFAULT 0,
        wait_reason TEXT NOT NULL DEFAULT '',
        record TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS offers (
        id TEXT PRIMARY KEY,
        incident_id TEXT NOT NULL,
        vendor_id TEXT NOT NULL,
        status TEXT NOT NULL,
        expires_at INTEGER NOT NULL,
        record TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_offers_incident ON offers(incident_id);
    CREATE INDEX IF NOT EXISTS idx_incidents_waiting ON incidents(waiting_until);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateIncident(ctx context.Context, inc model.Incident) error {
	rec, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, status, assigned_vendor_id, version, waiting_until, wait_reason, record)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, string(inc.Status), inc.AssignedVendorID, inc.Version,
		waitingUnix(inc), string(inc.WaitReason), string(rec))
	if err != nil {
		return faults.Conflictf("incident %s already exists", inc.ID)
	}
	return nil
}

func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (model.Incident, error) {
	var rec string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM incidents WHERE id = ?`, id).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incident{}, faults.NotFoundf("incident %s", id)
	}
	if err != nil {
		return model.Incident{}, err
	}
	var inc model.Incident
	if err := json.Unmarshal([]byte(rec), &inc); err != nil {
		return model.Incident{}, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return inc, nil
}

func (s *SQLiteStore) UpdateIncident(ctx context.Context, inc model.Incident, expectedVersion int64) (model.Incident, error) {
	inc.Version = expectedVersion + 1
	inc.UpdatedAt = time.Now().UTC()
	if err := s.writeConditional(ctx, inc, expectedVersion); err != nil {
		return model.Incident{}, err
	}
	return inc, nil
}

func (s *SQLiteStore) ClaimAssignment(ctx context.Context, incidentID, vendorID string, actor model.Actor, now, arrivalDeadline time.Time) (model.Incident, error) {
	inc, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return model.Incident{}, err
	}
	if inc.Status != model.StatusCreated || inc.Assigned() {
		return model.Incident{}, faults.Conflictf("incident %s already assigned", incidentID)
	}
	expected := inc.Version
	inc.Timeline = append(inc.Timeline, model.TimelineEntry{
		From:      model.StatusCreated,
		To:        model.StatusVendorAssigned,
		Timestamp: now,
		Actor:     actor,
		Reason:    "offer accepted",
	})
	inc.Status = model.StatusVendorAssigned
	inc.AssignedVendorID = vendorID
	inc.AssignedAt = now
	inc.WaitingUntil = arrivalDeadline
	inc.WaitReason = model.WaitArrival
	inc.Version = expected + 1
	inc.UpdatedAt = now
	// The WHERE clause repeats the precondition so that a racing claim
	// loses on rows-affected even if it slipped between read and write.
	if err := s.writeGuarded(ctx, inc, expected,
		`AND status = 'created' AND assigned_vendor_id = ''`); err != nil {
		return model.Incident{}, err
	}
	return inc, nil
}

func (s *SQLiteStore) ReleaseAssignment(ctx context.Context, incidentID, vendorID, reason string, now time.Time) (model.Incident, error) {
	inc, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return model.Incident{}, err
	}
	if inc.AssignedVendorID != vendorID {
		return model.Incident{}, faults.Conflictf("incident %s not assigned to %s", incidentID, vendorID)
	}
	if inc.Status != model.StatusVendorAssigned && inc.Status != model.StatusVendorEnRoute {
		return model.Incident{}, faults.Conflictf("incident %s in %s, cannot release", incidentID, inc.Status)
	}
	expected := inc.Version
	inc.Timeline = append(inc.Timeline, model.TimelineEntry{
		From:      inc.Status,
		To:        model.StatusCreated,
		Timestamp: now,
		Actor:     model.System,
		Reason:    reason,
	})
	inc.Status = model.StatusCreated
	inc.AssignedVendorID = ""
	inc.AssignedAt = time.Time{}
	inc.Version = expected + 1
	inc.UpdatedAt = now
	if err := s.writeGuarded(ctx, inc, expected, ""); err != nil {
		return model.Incident{}, err
	}
	return inc, nil
}

func (s *SQLiteStore) ListWaiting(ctx context.Context, now time.Time) ([]model.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM incidents
         WHERE wait_reason != '' AND waiting_until > 0 AND waiting_until <= ?
         ORDER BY waiting_until`, now.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var due []model.Incident
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		var inc model.Incident
		if err := json.Unmarshal([]byte(rec), &inc); err != nil {
			continue
		}
		due = append(due, inc)
	}
	return due, rows.Err()
}

func (s *SQLiteStore) ListAssignedToVendor(ctx context.Context, vendorID string) ([]model.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM incidents WHERE assigned_vendor_id = ? ORDER BY id`, vendorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Incident
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		var inc model.Incident
		if err := json.Unmarshal([]byte(rec), &inc); err != nil {
			continue
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateOffers(ctx context.Context, offers []model.Offer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, o := range offers {
		rec, err := json.Marshal(o)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO offers (id, incident_id, vendor_id, status, expires_at, record)
             VALUES (?, ?, ?, ?, ?, ?)`,
			o.ID, o.IncidentID, o.VendorID, string(o.Status), o.ExpiresAt.Unix(), string(rec)); err != nil {
			_ = tx.Rollback()
			return faults.Conflictf("offer %s already exists", o.ID)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOffer(ctx context.Context, id string) (model.Offer, error) {
	var rec string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM offers WHERE id = ?`, id).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Offer{}, faults.NotFoundf("offer %s", id)
	}
	if err != nil {
		return model.Offer{}, err
	}
	var o model.Offer
	if err := json.Unmarshal([]byte(rec), &o); err != nil {
		return model.Offer{}, fmt.Errorf("decode offer %s: %w", id, err)
	}
	return o, nil
}

func (s *SQLiteStore) ListOffersByIncident(ctx context.Context, incidentID string) ([]model.Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM offers WHERE incident_id = ? ORDER BY id`, incidentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Offer
	for rows.Next() {
		var rec string
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		var o model.Offer
		if err := json.Unmarshal([]byte(rec), &o); err != nil {
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TransitionOffer(ctx context.Context, offerID string, from, to model.OfferStatus, reason string) (model.Offer, error) {
	o, err := s.GetOffer(ctx, offerID)
	if err != nil {
		return model.Offer{}, err
	}
	if o.Status != from {
		return model.Offer{}, faults.Conflictf("offer %s is %s, expected %s", offerID, o.Status, from)
	}
	o.Status = to
	if to == model.OfferDeclined {
		o.DeclineReason = reason
	}
	rec, err := json.Marshal(o)
	if err != nil {
		return model.Offer{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET status = ?, record = ? WHERE id = ? AND status = ?`,
		string(to), string(rec), offerID, string(from))
	if err != nil {
		return model.Offer{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Offer{}, faults.Conflictf("offer %s is no longer %s", offerID, from)
	}
	return o, nil
}

func (s *SQLiteStore) writeConditional(ctx context.Context, inc model.Incident, expectedVersion int64) error {
	return s.writeGuarded(ctx, inc, expectedVersion, "")
}

// writeGuarded rewrites the incident row conditioned on the expected
// version plus an optional extra guard clause.
func (s *SQLiteStore) writeGuarded(ctx context.Context, inc model.Incident, expectedVersion int64, guard string) error {
	rec, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	q := `UPDATE incidents
          SET status = ?, assigned_vendor_id = ?, version = ?, waiting_until = ?, wait_reason = ?, record = ?
          WHERE id = ? AND version = ? ` + guard
	res, err := s.db.ExecContext(ctx, q,
		string(inc.Status), inc.AssignedVendorID, inc.Version,
		waitingUnix(inc), string(inc.WaitReason), string(rec),
		inc.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return faults.Conflictf("incident %s changed concurrently", inc.ID)
	}
	return nil
}

func waitingUnix(inc model.Incident) int64 {
	if inc.WaitingUntil.IsZero() {
		return 0
	}
	return inc.WaitingUntil.Unix()
}
