package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by this package.
const (
	MeasurementGuestActivity = "guest_activity"
	MeasurementScore         = "guest_score"
)

// WriteGuestActivity records a guest's cumulative button presses, tagged
// with its MAC and stamped with the time the report was received:
//
//	guest_activity,mac=AA:BB:CC:00:00:01 button_presses=5i
//
// A point without a MAC, with negative presses or without a time is
// rejected and reported to the error callback.
func (c *Client) WriteGuestActivity(mac string, presses int, at time.Time) {
	var problem string
	if presses < 0 {
		problem = "negative button presses"
	}
	c.writeGuest(MeasurementGuestActivity, mac, "button_presses", presses, at, problem)
}

// WriteScore records a score pushed to a guest, over MQTT or HTTP.
func (c *Client) WriteScore(mac string, score int32, at time.Time) {
	c.writeGuest(MeasurementScore, mac, "score", score, at, "")
}

// writeGuest batches one guest point unless problem, or a missing mac or
// time, rejects it. Nothing is counted once the client is closed.
func (c *Client) writeGuest(measurement, mac, field string, value any, at time.Time, problem string) {
	if !c.IsConnected() {
		return
	}
	switch {
	case problem != "":
		c.reject(measurement, mac, problem)
		return
	case mac == "":
		c.reject(measurement, mac, "missing mac")
		return
	case at.IsZero():
		c.reject(measurement, mac, "missing timestamp")
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement,
		map[string]string{"mac": mac},
		map[string]any{field: value},
		at,
	))
	c.points.Add(1)
}

func (c *Client) reject(measurement, mac, reason string) {
	c.rejected.Add(1)
	c.report(&WriteError{
		Bucket:      c.cfg.Bucket,
		Measurement: measurement,
		MAC:         mac,
		Err:         fmt.Errorf("%w: %s", ErrInvalidPoint, reason),
	})
}
