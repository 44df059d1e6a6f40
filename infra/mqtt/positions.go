package mqtt

import (
	"encoding/json"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/roadcall/dispatchd/core/model"
	"github.com/roadcall/dispatchd/core/orchestrator"
	"github.com/roadcall/dispatchd/infra/logger"
)

// PositionHandler receives vendor location samples from the tracking
// feed.
type PositionHandler func(orchestrator.PositionUpdate)

// SubscribePositions listens on vendor/+/position and forwards every
// decodable sample to the handler. The vendor id is taken from the
// topic, not the payload, so a vendor cannot report for another.
func SubscribePositions(client *Client, handler PositionHandler) error {
	log := logger.New("position_feed")
	return client.subscribe("vendor/+/position", "position", func(_ paho.Client, msg paho.Message) {
		vendorID := vendorFromTopic(msg.Topic())
		if vendorID == "" {
			log.Warnf("position on unexpected topic %s", msg.Topic())
			return
		}
		var p positionPayload
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Errorf("failed to decode position from %s: %v", vendorID, err)
			return
		}
		handler(orchestrator.PositionUpdate{
			VendorID:  vendorID,
			Location:  model.Location{Lat: p.Latitude, Lon: p.Longitude},
			Timestamp: p.at(),
		})
	})
}

func vendorFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "vendor" || parts[2] != "position" {
		return ""
	}
	return parts[1]
}
