// Package influxdb records kiosk metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library's non-blocking write
// API. Two measurements are written:
//   - auth_attempts: one point per settled session (tags device_id, outcome,
//     reason; fields success, latency_ms)
//   - audit_delivery: one point per failed or dropped audit delivery (tags
//     device_id, sink; field failures)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAuthAttempt(influxdb.AuthAttempt{DeviceID: "kiosk-001", Outcome: "matched", Success: true})
//
// # Error Handling
//
// Writes never block or return errors; batch failures arrive asynchronously
// through the callback set with SetOnError. Connection and health check
// errors are returned directly.
package influxdb
