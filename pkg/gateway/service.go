package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"qqbot/pkg/bus"
	"qqbot/pkg/callback"
	"qqbot/pkg/channel"
	"qqbot/pkg/config"
	"qqbot/pkg/identity"
	"qqbot/pkg/inbound"
	"qqbot/pkg/logger"
	"qqbot/pkg/media"
	"qqbot/pkg/message"
	"qqbot/pkg/telemetry"
)

const (
	defaultHealthHost = "127.0.0.1"
	defaultHealthPort = 18790

	healthInterval = 30 * time.Second
	sweepInterval  = time.Minute
)

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	bus      *bus.MessageBus
	metrics  *telemetry.Prometheus
	store    *identity.Store
	files    *media.FileStore
	registry *callback.Registry
	manager  *runtimeManager
	handler  channel.Handler

	mu            sync.RWMutex
	startedAt     time.Time
	apiLastOKAt   time.Time
	apiLastErr    string
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	APILastOKAt   string                  `json:"api_last_ok_at,omitempty"`
	APILastErr    string                  `json:"api_last_error,omitempty"`
	Channels      map[string]channelState `json:"channels"`
}

type options struct {
	transport TransportFactory
	handler   channel.Handler
}

type Option func(*options)

// WithTransportFactory replaces the OpenAPI client used by every account.
func WithTransportFactory(f TransportFactory) Option {
	return func(o *options) { o.transport = f }
}

// WithHandler sets the handler inbound messages are passed to. Without one,
// messages are only published as events.
func WithHandler(h channel.Handler) Option {
	return func(o *options) { o.handler = h }
}

func NewService(cfg *config.Config, log *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.handler == nil {
		o.handler = func(context.Context, *inbound.Message) ([]message.Segment, error) { return nil, nil }
	}

	accounts, err := cfg.Accounts()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, errors.New("at least one bot account token is required")
	}

	s := &Service{
		cfg:           cfg,
		log:           logger.Component(log, "gateway.service"),
		bus:           bus.NewMessageBus(),
		metrics:       telemetry.NewPrometheus(),
		registry:      callback.NewRegistry(callback.WithTTL(cfg.CallbackTTLDuration())),
		handler:       o.handler,
		channelStates: make(map[string]channelState, len(accounts)),
	}

	var persist identity.Persister
	if path := strings.TrimSpace(cfg.Storage.Path); path != "" {
		store, err := identity.OpenStore(path, log)
		if err != nil {
			return nil, fmt.Errorf("open identity store: %w", err)
		}
		s.store = store
		persist = store
	}
	caches := identity.NewCaches(persist)
	if s.store != nil {
		n, err := s.store.LoadInto(caches)
		if err != nil {
			_ = s.store.Close()
			return nil, fmt.Errorf("load identity store: %w", err)
		}
		s.log.Info("Identity records loaded", "records", n)
	}

	if public := strings.TrimSpace(cfg.Gateway.PublicURL); public != "" {
		s.files = media.NewFileStore(public, time.Duration(cfg.Gateway.FileTTL)*time.Second)
	}

	deps := shared{
		bus:       s.bus,
		caches:    caches,
		aliases:   identity.NewAliasCache(),
		registry:  s.registry,
		telemetry: s.metrics,
		files:     s.files,
		loader:    media.NewLoader(nil),
	}
	s.manager, err = newRuntimeManager(cfg, deps, o.transport, log)
	if err != nil {
		s.close()
		return nil, err
	}
	for _, rt := range s.manager.list() {
		s.channelStates[rt.adapter.Name()] = channelState{}
	}
	return s, nil
}

// Bus returns the event bus every account publishes to.
func (s *Service) Bus() *bus.MessageBus { return s.bus }

// Adapter returns the running adapter of accountID.
func (s *Service) Adapter(accountID string) (channel.Adapter, bool) {
	rt, ok := s.manager.get(accountID)
	if !ok {
		return nil, false
	}
	return rt.adapter, true
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.close()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkAPIHealth(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runServer(gctx) })
	g.Go(func() error {
		s.every(gctx, healthInterval, func() { _ = s.checkAPIHealth(gctx) })
		return nil
	})
	g.Go(func() error {
		s.every(gctx, sweepInterval, func() {
			if n := s.registry.Sweep(); n > 0 {
				s.log.Debug("Expired callbacks dropped", "count", n)
			}
		})
		return nil
	})

	for _, rt := range s.manager.list() {
		adapter := rt.adapter
		s.setChannelState(adapter.Name(), channelState{Running: true})
		s.bus.PublishEvent(gctx, bus.Event{Name: bus.EventConnect, AccountID: adapter.AccountID()})

		g.Go(func() error {
			err := adapter.Run(gctx, s.handler)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (s *Service) every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (s *Service) close() {
	s.bus.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("Failed to close identity store", "error", err)
		}
	}
}

func (s *Service) addr() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}
	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}
	return host + ":" + strconv.Itoa(port)
}

func (s *Service) runServer(ctx context.Context) error {
	addr := s.addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start gateway server: %w", err)
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	writeJSON(w, statusCode, s.currentStatus(status), s.log)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to write response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	apiLastOK := ""
	if !s.apiLastOKAt.IsZero() {
		apiLastOK = s.apiLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		APILastOKAt:   apiLastOK,
		APILastErr:    s.apiLastErr,
		Channels:      channels,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.channelStates) == 0 {
		return false
	}

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	if !anyRunning {
		return false
	}

	if s.apiLastOKAt.IsZero() {
		return false
	}

	if s.apiLastErr != "" {
		return false
	}

	return true
}

// checkAPIHealth asks the platform who every account is.
func (s *Service) checkAPIHealth(ctx context.Context) error {
	if err := s.manager.probe(ctx); err != nil {
		s.mu.Lock()
		s.apiLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("bot api health check failed: %w", err)
	}

	s.mu.Lock()
	s.apiLastErr = ""
	s.apiLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
