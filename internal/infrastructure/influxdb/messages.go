package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementMessages is the measurement holding one point per MQTT message.
const MeasurementMessages = "echobeacon_messages"

// WriteMessage records one MQTT message. payload is the parsed payload as
// stored in the audit log.
//
//	client.WriteMessage("outgoing", "fiap/iot/echobeacon/comando",
//	    map[string]any{"comando": "ativar", "numero_identificacao": "EB-1"}, time.Now())
func (c *Client) WriteMessage(direction, topic string, payload any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(messagePoint(direction, topic, payload, ts))
}

// messagePoint builds the point for one message. Tags stay low-cardinality;
// the command and identification code are fields.
func messagePoint(direction, topic string, payload any, ts time.Time) *write.Point {
	fields := map[string]any{
		"count": 1,
	}

	if b, err := json.Marshal(payload); err == nil {
		fields["payload_bytes"] = len(b)
	}

	raw := false
	if obj, ok := payload.(map[string]any); ok {
		if s, ok := obj["raw"].(string); ok && len(obj) == 1 {
			raw = true
			fields["raw"] = s
		}
		if s, ok := obj["comando"].(string); ok {
			fields["command"] = s
		}
		if s, ok := obj["numero_identificacao"].(string); ok {
			fields["identification"] = s
		}
	}
	fields["parsed"] = !raw

	return write.NewPoint(
		MeasurementMessages,
		map[string]string{
			"direction": direction,
			"topic":     topic,
		},
		fields,
		ts,
	)
}
