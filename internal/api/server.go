package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-attendance/internal/audit"
	"github.com/nerrad567/gray-logic-attendance/internal/capture"
	"github.com/nerrad567/gray-logic-attendance/internal/identity"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-attendance/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SessionRunner is the kiosk session as seen by the API.
// Satisfied by *session.Session.
type SessionRunner interface {
	Begin(ctx context.Context, sample identity.SampleEncoding) (session.Outcome, error)
	State() session.State
}

// AuditStatsProvider reports audit delivery counters.
// Satisfied by *audit.Logger.
type AuditStatsProvider interface {
	Stats() audit.Stats
}

// CaptureStatsProvider reports sensor helper state.
// Satisfied by *capture.Supervisor.
type CaptureStatsProvider interface {
	Stats() capture.Stats
}

// ScanSubscriber subscribes to MQTT scan triggers.
// Satisfied by *mqtt.Client.
type ScanSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Session    SessionRunner
	DeviceID   string
	AuditRepo  audit.Repository     // optional: journal queries return 503 without it
	AuditStats AuditStatsProvider   // optional
	MQTT       ScanSubscriber       // optional: scan triggers over MQTT
	Capture    CaptureStatsProvider // optional: sensor helper in /metrics
	DB         *database.DB         // optional: pool stats in /metrics
	Hub        *Hub                 // if set, the server uses this hub instead of creating its own
	Version    string
}

// Server is the local HTTP API server for the attendance kiosk.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	session     SessionRunner
	deviceID    string
	auditRepo   audit.Repository
	auditStats  AuditStatsProvider
	mqtt        ScanSubscriber
	capture     CaptureStatsProvider
	db          *database.DB
	version     string
	startTime   time.Time
	scanLimiter *rate.Limiter // nil when rate limiting is disabled
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		session:    deps.Session,
		deviceID:   deps.DeviceID,
		auditRepo:  deps.AuditRepo,
		auditStats: deps.AuditStats,
		mqtt:       deps.MQTT,
		capture:    deps.Capture,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
	}

	if rl := deps.Config.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		burst := rl.Burst
		if burst < 1 {
			burst = 1
		}
		s.scanLimiter = rate.NewLimiter(rate.Limit(float64(rl.RequestsPerMinute)/60), burst)
	}

	// The hub is usually built first so the session can notify it.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub if it owns one, subscribes
// to MQTT scan triggers, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	if err := s.subscribeScanTriggers(srvCtx); err != nil {
		s.logger.Warn("failed to subscribe to scan triggers", "error", err)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests (including a pending
// scan) to complete, then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}
