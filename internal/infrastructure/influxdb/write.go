package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the link.
const (
	MeasurementDiscovery = "arlo_discovery"
	MeasurementSession   = "arlo_session"
	MeasurementLogin     = "arlo_login"
	MeasurementMFA       = "arlo_mfa"
)

// DiscoveryStats summarises one discovery pass.
type DiscoveryStats struct {
	Hubs     int
	Cameras  int
	Usable   int
	Orphans  int
	Duration time.Duration
	Failed   bool
}

// RecordDiscovery writes the outcome of a discovery pass.
//
// Example:
//
//	client.RecordDiscovery(influxdb.DiscoveryStats{Hubs: 1, Cameras: 4, Usable: 3})
func (c *Client) RecordDiscovery(s DiscoveryStats) {
	c.WritePoint(MeasurementDiscovery,
		map[string]string{"outcome": outcome(!s.Failed)},
		map[string]interface{}{
			"hubs":        s.Hubs,
			"cameras":     s.Cameras,
			"usable":      s.Usable,
			"orphans":     s.Orphans,
			"duration_ms": s.Duration.Milliseconds(),
		},
	)
}

// RecordSessionState writes a session state transition.
func (c *Client) RecordSessionState(from, to string) {
	c.WritePoint(MeasurementSession,
		map[string]string{"from": from, "to": to},
		map[string]interface{}{"transitions": 1},
	)
}

// RecordLogin writes a login attempt. method is "password" or "token".
func (c *Client) RecordLogin(method string, ok bool, d time.Duration) {
	c.WritePoint(MeasurementLogin,
		map[string]string{"method": method, "outcome": outcome(ok)},
		map[string]interface{}{"duration_ms": d.Milliseconds()},
	)
}

// RecordMFACode writes the arrival of an MFA code. source is "manual" or "imap".
func (c *Client) RecordMFACode(source string) {
	c.WritePoint(MeasurementMFA,
		map[string]string{"source": source},
		map[string]interface{}{"codes": 1},
	)
}

// WritePoint writes a custom point timestamped now. Writes are batched and
// non-blocking; they are silently dropped while disconnected.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	all := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		all[k] = v
	}
	if c.site != "" {
		all["site"] = c.site
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, all, fields, timestamp))
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
