package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roadcall/dispatchd/config"
	"github.com/roadcall/dispatchd/core/match"
	"github.com/roadcall/dispatchd/core/matchcfg"
	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/core/offer"
	"github.com/roadcall/dispatchd/core/orchestrator"
	"github.com/roadcall/dispatchd/core/store"
	"github.com/roadcall/dispatchd/infra/logger"
	"github.com/roadcall/dispatchd/infra/roster"
)

var (
	intakeType string
	intakeLat  float64
	intakeLon  float64
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Register a test incident against the live roster",
	RunE:  intakeIncident,
}

func init() {
	intakeCmd.Flags().StringVar(&intakeType, "type", string(model.IncidentTire), "incident type")
	intakeCmd.Flags().Float64Var(&intakeLat, "lat", 0, "incident latitude")
	intakeCmd.Flags().Float64Var(&intakeLon, "lon", 0, "incident longitude")
	rootCmd.AddCommand(intakeCmd)
}

// intakeIncident runs one matching round against the configured roster
// without starting the full service. Useful to verify vendor coverage
// for a location before go-live.
func intakeIncident(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg := logger.New("intake-command")
	ros, err := roster.NewRedisRoster(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis roster: %w", err)
	}
	defer func() {
		if err := ros.Close(); err != nil {
			logg.Errorf("roster close: %v", err)
		}
	}()

	st := store.NewMemoryStore()
	configs := matchcfg.NewStore(0)
	if _, err := configs.Update(cfg.Match, "intake-command", "probe run"); err != nil {
		return fmt.Errorf("match config: %w", err)
	}
	engine := match.NewEngine(ros, logg)
	offerMgr := offer.NewManager(st, nil, nil, nil, logg)
	orc := orchestrator.New(st, engine, offerMgr, configs, nil, nil, logg)

	inc, err := orc.Intake(ctx, orchestrator.IncidentCreated{
		DriverID:  "intake-probe",
		Type:      model.IncidentType(intakeType),
		Location:  model.Location{Lat: intakeLat, Lon: intakeLon},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	offers, err := offerMgr.PendingOffers(ctx, inc.ID)
	if err != nil {
		return fmt.Errorf("listing offers: %w", err)
	}
	logg.Infof("incident %s: attempt %d radius %.1fmi, %d offers",
		inc.ID, inc.MatchingAttempts, inc.SearchRadiusMiles, len(offers))
	for _, o := range offers {
		logg.Infof("  vendor %s score %.3f payout %.2f", o.VendorID, o.Score, o.EstimatedPayout)
	}
	return nil
}
