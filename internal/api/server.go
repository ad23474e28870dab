package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/GuLopes14/echobeacon-core/internal/audit"
	"github.com/GuLopes14/echobeacon-core/internal/auth"
	"github.com/GuLopes14/echobeacon-core/internal/command"
	"github.com/GuLopes14/echobeacon-core/internal/fleet"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/config"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/logging"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/mqtt"
	"github.com/GuLopes14/echobeacon-core/internal/pairing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Connection is the part of the broker client the API drives.
// *mqtt.Client implements it.
type Connection interface {
	Connect(opts mqtt.Options) error
	Disconnect()
	Status() mqtt.Status
	LastError() error
	BrokerURL() string
	OnStatusChange(fn func(mqtt.StatusChange)) (remove func())
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// MQTT and MQTTOptions back the connection endpoints. Options are the
	// defaults for POST /connection/connect.
	MQTT        Connection
	MQTTOptions mqtt.Options

	Fleet      *fleet.Repository
	Pairer     *pairing.Pairer
	Reconciler *pairing.Reconciler
	Publisher  *command.Publisher
	Status     *command.StatusMonitor // optional
	AuditRepo  audit.Repository       // optional
	DB         *sql.DB                // optional, pool stats for /system
	Version    string
}

// Server is the HTTP API server for EchoBeacon Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	mqtt        Connection
	mqttOpts    mqtt.Options
	fleet       *fleet.Repository
	pairer      *pairing.Pairer
	reconciler  *pairing.Reconciler
	publisher   *command.Publisher
	status      *command.StatusMonitor
	auditRepo   audit.Repository
	db          *sql.DB
	verifier    *auth.Verifier
	tickets     *ticketStore
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc // cancels background goroutines on Close()
	unsubscribe []func()
	closeOnce   sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("fleet repository is required")
	}
	if deps.Pairer == nil || deps.Reconciler == nil {
		return nil, fmt.Errorf("pairer and reconciler are required")
	}
	if deps.MQTT == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("mqtt connection and publisher are required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		mqtt:       deps.MQTT,
		mqttOpts:   deps.MQTTOptions,
		fleet:      deps.Fleet,
		pairer:     deps.Pairer,
		reconciler: deps.Reconciler,
		publisher:  deps.Publisher,
		status:     deps.Status,
		auditRepo:  deps.AuditRepo,
		db:         deps.DB,
		verifier:   auth.NewVerifier(deps.Security.JWT.Secret, deps.Security.JWT.Issuer),
		tickets:    newTicketStore(),
		version:    deps.Version,
		startTime:  time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays connection status, pairing changes
// and beacon status messages to WebSocket clients, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.relayEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
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

// relayEvents forwards domain events to the WebSocket hub.
func (s *Server) relayEvents() {
	s.hub.SetSnapshot(ChannelConnection, func() any { return s.connectionState() })
	s.hub.SetSnapshot(ChannelPairing, func() any {
		return map[string]any{"kind": "snapshot", "state": s.reconciler.State()}
	})

	s.unsubscribe = append(s.unsubscribe,
		s.mqtt.OnStatusChange(func(change mqtt.StatusChange) {
			s.hub.Broadcast(ChannelConnection, connectionEvent(change))
		}),
		s.reconciler.OnChange(func(change pairing.Change) {
			s.hub.Broadcast(ChannelPairing, pairingEvent(change))
		}),
	)
	if s.status != nil {
		s.unsubscribe = append(s.unsubscribe, s.status.OnStatus(func(msg command.StatusMessage) {
			s.hub.Broadcast(ChannelBeaconStatus, msg)
		}))
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		for _, remove := range s.unsubscribe {
			remove()
		}
		if s.cancel != nil {
			s.cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down API server: %w", shutdownErr)
		}
	})
	return err
}

// HealthCheck verifies the API server is running and responsive.
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
