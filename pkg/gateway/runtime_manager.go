package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"qqbot/pkg/bus"
	"qqbot/pkg/button"
	"qqbot/pkg/callback"
	"qqbot/pkg/channel/qqbot"
	"qqbot/pkg/compose"
	"qqbot/pkg/config"
	"qqbot/pkg/delivery"
	"qqbot/pkg/identity"
	"qqbot/pkg/logger"
	"qqbot/pkg/media"
	"qqbot/pkg/openapi"
	"qqbot/pkg/telemetry"
	"qqbot/pkg/templating"
)

// Transport is what an account runtime needs from the OpenAPI client.
type Transport interface {
	qqbot.Transport
	Me(ctx context.Context) (openapi.User, error)
}

// TransportFactory builds the transport of one account.
type TransportFactory func(acc config.Account, cfg *config.Config, loader *media.Loader) (Transport, error)

// OpenAPITransport is the default factory.
func OpenAPITransport(log *slog.Logger) TransportFactory {
	return func(acc config.Account, cfg *config.Config, loader *media.Loader) (Transport, error) {
		client, err := openapi.New(openapi.Config{AppID: acc.AppID, Token: acc.Token, Sandbox: cfg.Sandbox}, log)
		if err != nil {
			return nil, err
		}
		client.SetLoader(loader)
		return client, nil
	}
}

// shared are the collaborators every account runtime uses.
type shared struct {
	bus       *bus.MessageBus
	caches    *identity.Caches
	aliases   *identity.AliasCache
	registry  *callback.Registry
	telemetry telemetry.Recorder
	files     *media.FileStore
	loader    *media.Loader
}

// accountRuntime is the wired stack of one bot account.
type accountRuntime struct {
	account   config.Account
	adapter   *qqbot.Adapter
	transport Transport
}

// runtimeManager owns the per-account runtimes and indexes them by app id for
// webhook routing.
type runtimeManager struct {
	cfg          *config.Config
	deps         shared
	newTransport TransportFactory
	// base is handed unscoped to per-account components, which scope it
	// themselves.
	base *slog.Logger
	log  *slog.Logger

	mu       sync.RWMutex
	runtimes map[string]*accountRuntime
	byApp    map[string]string
}

// newRuntimeManager builds one runtime per configured account.
func newRuntimeManager(cfg *config.Config, deps shared, factory TransportFactory, log *slog.Logger) (*runtimeManager, error) {
	if log == nil {
		log = slog.Default()
	}
	if factory == nil {
		factory = OpenAPITransport(log)
	}

	m := &runtimeManager{
		cfg:          cfg,
		deps:         deps,
		newTransport: factory,
		base:         log,
		log:          logger.Component(log, "gateway.runtime_manager"),
		runtimes:     make(map[string]*accountRuntime),
		byApp:        make(map[string]string),
	}

	accounts, err := cfg.Accounts()
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		if _, err := m.add(acc); err != nil {
			return nil, fmt.Errorf("configure account %s: %w", acc.ID, err)
		}
	}
	return m, nil
}

// add builds and registers the runtime of acc.
func (m *runtimeManager) add(acc config.Account) (*accountRuntime, error) {
	m.mu.RLock()
	_, exists := m.runtimes[acc.ID]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("account %s is already running", acc.ID)
	}

	settings, err := m.cfg.Resolve(acc)
	if err != nil {
		return nil, err
	}
	transport, err := m.newTransport(acc, m.cfg, m.deps.loader)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	engine := newEngine(m.cfg, settings, m.deps, m.base)
	eval := templating.Mustache{}

	adapter, err := qqbot.NewAdapter(qqbot.Config{
		AccountID:       acc.ID,
		AppID:           acc.AppID,
		Secret:          acc.Secret,
		HideGuildRecall: settings.HideGuildRecall,
		ToQQUin:         m.cfg.ToQQUin,
		Inbound:         settings.Inbound,
	}, qqbot.Deps{
		Transport: transport,
		Engine:    engine,
		Cache:     m.deps.caches.Account(acc.ID),
		Aliases:   m.deps.aliases,
		Registry:  m.deps.registry,
		Bus:       m.deps.bus,
		Finder:    settings.Finder,
		Telemetry: m.deps.telemetry,
		Evaluator: eval,
	}, m.base)
	if err != nil {
		return nil, err
	}

	rt := &accountRuntime{account: acc, adapter: adapter, transport: transport}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtimes[acc.ID] = rt
	m.byApp[acc.AppID] = acc.ID
	return rt, nil
}

// newEngine wires the media service, button builder and composer of one
// account into a delivery engine.
func newEngine(cfg *config.Config, settings config.AccountSettings, deps shared, log *slog.Logger) *delivery.Engine {
	mediaOpts := media.Options{
		Loader:      deps.loader,
		UploadFirst: cfg.ToBotUpload,
		ImageScale:  cfg.MarkdownImgScale,
	}
	if deps.files != nil {
		mediaOpts.Host = deps.files
	}
	if len(cfg.VoiceEncoder) > 0 {
		mediaOpts.Transcoder = media.ExecTranscoder{Command: cfg.VoiceEncoder}
	}
	mediaSvc := media.NewService(mediaOpts, log)

	buttons := button.NewBuilder(settings.Button, deps.registry, deps.aliases)
	composer := compose.New(settings.Compose, buttons, mediaSvc, templating.Mustache{}, deps.aliases, log)
	return delivery.NewEngine(settings.Account.ID, composer, deps.telemetry, log)
}

// forApp returns the runtime serving appID.
func (m *runtimeManager) forApp(appID string) (*accountRuntime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byApp[appID]
	if !ok {
		return nil, false
	}
	rt, ok := m.runtimes[id]
	return rt, ok
}

func (m *runtimeManager) get(accountID string) (*accountRuntime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[accountID]
	return rt, ok
}

// list returns the runtimes ordered by account id.
func (m *runtimeManager) list() []*accountRuntime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*accountRuntime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].account.ID < out[j].account.ID })
	return out
}

// probe calls Me on every account and joins the failures.
func (m *runtimeManager) probe(ctx context.Context) error {
	var errs []error
	for _, rt := range m.list() {
		me, err := rt.transport.Me(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", rt.account.ID, err))
			continue
		}
		m.log.Debug("Account reachable", "account_id", rt.account.ID, "username", me.Username)
	}
	return errors.Join(errs...)
}
