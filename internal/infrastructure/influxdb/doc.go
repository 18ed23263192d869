// Package influxdb provides InfluxDB connectivity for guest activity telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes and health monitoring.
//
// Points written:
//
//	guest_activity,mac=<MAC> button_presses=<n>i
//	guest_score,mac=<MAC> score=<n>i
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteGuestActivity("AA:BB:CC:00:00:01", 5, time.Now())
//
// # Error Handling
//
// Writes never block. Failed batches and points rejected before batching
// (no MAC, no timestamp, negative presses) reach the SetOnError callback
// as *WriteError values; Stats counts them. Connection and health check
// errors are returned directly.
package influxdb
