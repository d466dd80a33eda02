// Package capture supervises the fingerprint sensor helper.
//
// The helper is an external program that owns the sensor hardware and
// prints one encoded sample per line on stdout each time a finger is
// placed. The Supervisor starts it in its own process group, hands every
// non-blank stdout line to a SampleHandler, logs stderr, and restarts the
// helper with exponential backoff when it exits unexpectedly.
//
// Example usage:
//
//	sup := capture.NewSupervisor(capture.Config{
//	    Command:      "/usr/lib/attendance/sensor-helper",
//	    Args:         []string{"--device", "/dev/hidraw0"},
//	    RestartDelay: time.Second,
//	}, func(sample string) {
//	    go sess.Begin(ctx, identity.SampleEncoding(sample))
//	})
//
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package capture
