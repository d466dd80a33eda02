// Package logging builds the kiosk's log/slog logger.
//
// Output is JSON by default and text when logging.format is "text". Every
// entry carries service and version attributes, and components add their
// own with With (main adds device_id, each subsystem adds component).
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Attributes named sample, fingerprintData, token, secret, password or
// authorization are written as "[redacted]" whatever their value. Log a
// sample's length, not the sample:
//
//	log.Info("scan received", "sample_bytes", len(sample))
package logging
