// Package influxdb records the Arlo cloud link's operational metrics.
//
// Measurements:
//   - arlo_discovery: hubs, cameras, usable cameras and orphans per pass
//   - arlo_session: session state transitions
//   - arlo_login: password and token logins with outcome and latency
//   - arlo_mfa: MFA codes received, tagged by source (manual, imap)
//
// Every point carries a site tag. Metrics are optional; when
// influxdb.enabled is false Connect returns ErrDisabled and callers run
// without a recorder.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
//	defer client.Close()
//
//	client.RecordLogin("token", true, 420*time.Millisecond)
package influxdb
