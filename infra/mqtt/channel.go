package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roadcall/dispatchd/core/model"
)

// OfferChannel delivers offers to vendors over their per-vendor MQTT
// topic. It implements offer.VendorChannel.
type OfferChannel struct {
	client *Client
}

// NewOfferChannel wraps the shared MQTT client.
func NewOfferChannel(client *Client) *OfferChannel {
	return &OfferChannel{client: client}
}

type offerPayload struct {
	OfferID         string  `json:"offer_id"`
	IncidentID      string  `json:"incident_id"`
	EstimatedPayout float64 `json:"estimated_payout"`
	ExpiresAt       int64   `json:"expires_at"`
}

// SendOffer publishes the offer to vendor/<id>/offer. Delivery is
// best-effort; the offer still expires on its own clock if the vendor
// never sees it.
func (c *OfferChannel) SendOffer(_ context.Context, o model.Offer) error {
	payload, err := json.Marshal(offerPayload{
		OfferID:         o.ID,
		IncidentID:      o.IncidentID,
		EstimatedPayout: o.EstimatedPayout,
		ExpiresAt:       o.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("vendor/%s/offer", o.VendorID)
	return c.client.publish(topic, "offer", payload)
}

// positionPayload is the shape vendors publish on vendor/<id>/position.
type positionPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

func (p positionPayload) at() time.Time {
	if p.Timestamp == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(p.Timestamp).UTC()
}
