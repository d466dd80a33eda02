// Gray Logic Attendance - biometric attendance kiosk
//
// This is the main entry point for the attendance kiosk service. It wires:
//   - The authentication session (one scan at a time, per kiosk)
//   - The remote identity service client
//   - The asynchronous audit trail (remote service, local journal, MQTT)
//   - The local HTTP/WebSocket API used by the kiosk panel
//
// MQTT, InfluxDB and the sensor helper are optional; the kiosk works
// against the identity service alone.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-attendance/migrations"

	"github.com/nerrad567/gray-logic-attendance/internal/api"
	"github.com/nerrad567/gray-logic-attendance/internal/audit"
	"github.com/nerrad567/gray-logic-attendance/internal/capture"
	"github.com/nerrad567/gray-logic-attendance/internal/identity"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-attendance/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupHealthTimeout bounds the startup health checks.
const startupHealthTimeout = 10 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Shutdown runs the deferred Close calls in reverse order: the API server
// first (so a pending scan settles), then the session publishers, then the
// audit logger (which drains queued records), and finally the connections
// those records are delivered over.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup wiring: linear sequence of optional components
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting attendance kiosk",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("device_id", cfg.Device.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	var checks []healthChecker

	// Local journal (optional)
	var db *database.DB
	var journal *audit.SQLiteRepository
	if cfg.Audit.Journal {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		journal = audit.NewSQLiteRepository(db.DB)
		checks = append(checks, healthChecker{"database", db.HealthCheck})
	} else {
		log.Info("local audit journal disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks = append(checks, healthChecker{"mqtt", mqttClient.HealthCheck})
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection", "write_errors", influxClient.WriteErrors())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks = append(checks, healthChecker{"influxdb", influxClient.HealthCheck})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Identity service
	identityClient, err := newIdentityClient(cfg)
	if err != nil {
		return fmt.Errorf("creating identity client: %w", err)
	}
	log.Info("identity service configured",
		"base_url", cfg.Identity.BaseURL,
		"verify_timeout", cfg.Identity.VerifyTimeout,
		"device_token", cfg.Identity.DeviceToken.Secret != "",
	)

	// Audit trail
	auditLogger := newAuditLogger(cfg, identityClient, journal, mqttClient, influxClient, log.With("component", "audit"))
	defer func() {
		log.Info("draining audit queue")
		auditLogger.Close()
		stats := auditLogger.Stats()
		log.Info("audit logger stopped",
			"accepted", stats.Accepted,
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}()

	// Session and its observers
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	observers := []session.Observer{hub}
	if mqttClient != nil {
		statePublisher := session.NewStatePublisher(mqttClient, mqtt.Topics{}.KioskSessionState(cfg.Device.ID), log)
		defer statePublisher.Close()
		observers = append(observers, statePublisher)
	}
	if influxClient != nil {
		observers = append(observers, session.NewMetricsObserver(influxClient))
	}

	sess, err := session.New(session.Options{
		DeviceID:  cfg.Device.ID,
		Verifier:  identityClient,
		Audit:     auditLogger,
		Observers: observers,
		Logger:    log.With("component", "session"),
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	var captureSup *capture.Supervisor
	if cfg.Capture.Enabled {
		captureLog := log.With("component", "capture")
		captureSup = newCaptureSupervisor(cfg.Capture, scanFromCapture(ctx, sess, captureLog))
		captureSup.SetLogger(captureLog)
	}

	// Local API
	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.With("component", "api"),
		Session:    sess,
		DeviceID:   cfg.Device.ID,
		AuditStats: auditLogger,
		DB:         db,
		Hub:        hub,
		Version:    version,
	}
	if journal != nil {
		deps.AuditRepo = journal
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if captureSup != nil {
		deps.Capture = captureSup
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	checks = append(checks, healthChecker{"api", server.HealthCheck})

	// Sensor helper (optional). Registered after the server so it stops first.
	if captureSup != nil {
		if err := captureSup.Start(ctx); err != nil {
			return fmt.Errorf("starting sensor helper: %w", err)
		}
		defer func() {
			if stopErr := captureSup.Stop(); stopErr != nil {
				log.Error("error stopping sensor helper", "error", stopErr)
			}
		}()
		log.Info("sensor helper supervised", "command", cfg.Capture.Command)
		checks = append(checks, healthChecker{"capture", captureSup.HealthCheck})
	} else {
		log.Info("sensor helper disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ATTENDANCE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ATTENDANCE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newIdentityClient builds the identity service client and its device token source.
func newIdentityClient(cfg *config.Config) (*identity.Client, error) {
	var tokens identity.TokenSource
	if src := identity.NewDeviceTokenSource(identity.DeviceTokenOptions{
		Secret:     cfg.Identity.DeviceToken.Secret,
		DeviceID:   cfg.Device.ID,
		DeviceName: cfg.Device.Name,
		Issuer:     cfg.Identity.DeviceToken.Issuer,
		Audience:   cfg.Identity.DeviceToken.Audience,
		TTL:        cfg.Identity.DeviceToken.TTL,
	}); src != nil {
		tokens = src
	}

	return identity.NewClient(identity.Options{
		BaseURL:       cfg.Identity.BaseURL,
		VerifyTimeout: cfg.Identity.VerifyTimeout,
		AuditTimeout:  cfg.Identity.AuditTimeout,
		Tokens:        tokens,
		UserAgent:     "attendance-kiosk/" + version,
	})
}

// newAuditLogger assembles the audit sinks. The remote service always gets
// every record; the journal and MQTT sinks are added when configured.
// Failed deliveries are counted in InfluxDB when it is connected.
func newAuditLogger(
	cfg *config.Config,
	remote audit.AuthenticationPoster,
	journal *audit.SQLiteRepository,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) *audit.Logger {
	sinks := []audit.Sink{audit.NewRemoteSink(remote)}
	if journal != nil {
		sinks = append(sinks, audit.NewJournalSink(journal))
	}
	if mqttClient != nil && cfg.Audit.PublishMQTT {
		sinks = append(sinks, audit.NewPublisherSink(mqttClient, mqtt.Topics{}.KioskAudit(cfg.Device.ID), mqttClient.QoS()))
	}

	opts := audit.Options{
		QueueSize: cfg.Audit.QueueSize,
		Timeout:   cfg.Identity.AuditTimeout,
		Reporter:  log,
	}
	if influxClient != nil {
		opts.OnFailure = func(sink string, rec audit.Record, _ error) {
			influxClient.WriteAuditFailure(rec.DeviceID, sink, time.Now())
		}
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	log.Info("audit logger started", "sinks", names, "queue_size", cfg.Audit.QueueSize)

	return audit.NewLogger(opts, sinks...)
}

// newCaptureSupervisor maps the capture config onto the helper supervisor.
func newCaptureSupervisor(cfg config.CaptureConfig, handle capture.SampleHandler) *capture.Supervisor {
	return capture.NewSupervisor(capture.Config{
		Name:               "sensor-helper",
		Command:            cfg.Command,
		Args:               cfg.Args,
		RestartDelay:       cfg.RestartDelay,
		MaxRestartDelay:    cfg.MaxRestartDelay,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
		StopTimeout:        cfg.StopTimeout,
	}, handle)
}

// sampleRunner is the part of the session the sensor helper drives.
type sampleRunner interface {
	Begin(ctx context.Context, sample identity.SampleEncoding) (session.Outcome, error)
}

// scanFromCapture starts a scan for each helper sample. Samples that arrive
// while a scan is in progress are dropped, the same as a second HTTP scan.
func scanFromCapture(ctx context.Context, runner sampleRunner, log *logging.Logger) capture.SampleHandler {
	return func(sample string) {
		go func() {
			outcome, err := runner.Begin(ctx, identity.SampleEncoding(sample))
			switch {
			case errors.Is(err, session.ErrSessionBusy):
				log.Debug("sensor sample ignored, session busy")
			case err != nil:
				log.Error("sensor scan failed", "error", err)
			default:
				log.Debug("sensor scan settled", "outcome", outcome.Kind)
			}
		}()
	}
}

// healthChecker is one named startup check.
type healthChecker struct {
	name  string
	check func(ctx context.Context) error
}

// healthCheck runs all checks concurrently and returns the first failure.
func healthCheck(ctx context.Context, checks []healthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, hc := range checks {
		g.Go(func() error {
			if err := hc.check(gctx); err != nil {
				return fmt.Errorf("%s: %w", hc.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
