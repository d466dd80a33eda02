// Package config loads the kiosk configuration.
//
// Load starts from built-in defaults, overlays the YAML file, applies
// ATTENDANCE_* environment overrides and then validates the result,
// reporting every problem at once rather than the first.
//
// The only required value without a default is a reachable identity
// service; everything else (journal, MQTT, InfluxDB, sensor helper) can be
// switched off. Keep the device token secret, the MQTT password and the
// InfluxDB token in the environment:
//
//	ATTENDANCE_DEVICE_TOKEN_SECRET=... ATTENDANCE_CONFIG=/etc/attendance/config.yaml attendance
//
// Durations under identity and capture use Go syntax ("8s", "1500ms");
// the older API, websocket and influxdb fields are whole seconds.
package config
