package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"qqbot/pkg/bus"
	"qqbot/pkg/callback"
	"qqbot/pkg/config"
	"qqbot/pkg/delivery"
	"qqbot/pkg/identity"
	"qqbot/pkg/media"
	"qqbot/pkg/message"
	"qqbot/pkg/openapi"
	"qqbot/pkg/telemetry"
)

type sentPacket struct {
	kind   openapi.Kind
	target openapi.Target
	packet message.Packet
}

type fakeTransport struct {
	appID string

	mu    sync.Mutex
	sent  []sentPacket
	meErr error
	me    int
}

func (f *fakeTransport) Send(_ context.Context, kind openapi.Kind, t openapi.Target, p message.Packet) (delivery.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{kind: kind, target: t, packet: p})
	return delivery.SendResponse{ID: "out"}, nil
}

func (f *fakeTransport) Recall(context.Context, openapi.Kind, openapi.Target, string, bool) error {
	return nil
}

func (f *fakeTransport) CreateDMS(_ context.Context, userID, src string) (openapi.DMS, error) {
	return openapi.DMS{GuildID: "dms-" + userID, ChannelID: "dc"}, nil
}

func (f *fakeTransport) Ack(context.Context, string, int) error { return nil }

func (f *fakeTransport) Me(context.Context) (openapi.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.me++
	if f.meErr != nil {
		return openapi.User{}, f.meErr
	}
	return openapi.User{ID: f.appID, Username: "bot-" + f.appID}, nil
}

func (f *fakeTransport) setMeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meErr = err
}

func (f *fakeTransport) packets() []sentPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPacket, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeTransports hands out one fakeTransport per app id.
type fakeTransports struct {
	mu     sync.Mutex
	byApp  map[string]*fakeTransport
	failOn string
}

func newFakeTransports() *fakeTransports {
	return &fakeTransports{byApp: make(map[string]*fakeTransport)}
}

func (f *fakeTransports) factory(acc config.Account, _ *config.Config, _ *media.Loader) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc.AppID == f.failOn {
		return nil, errors.New("transport unavailable")
	}
	t := &fakeTransport{appID: acc.AppID}
	f.byApp[acc.AppID] = t
	return t, nil
}

func (f *fakeTransports) get(appID string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byApp[appID]
}

func testShared(t *testing.T) shared {
	t.Helper()
	b := bus.NewMessageBus()
	t.Cleanup(b.Close)
	return shared{
		bus:       b,
		caches:    identity.NewCaches(nil),
		aliases:   identity.NewAliasCache(),
		registry:  callback.NewRegistry(),
		telemetry: telemetry.Nop{},
		loader:    media.NewLoader(nil),
	}
}

func TestRuntimeManagerIndexesByAppID(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Tokens = []string{"b2:app2:tok:sec", "b1:app1:tok:sec"}
	transports := newFakeTransports()

	manager, err := newRuntimeManager(cfg, testShared(t), transports.factory, nil)
	require.NoError(t, err)

	rt, ok := manager.forApp("app1")
	require.True(t, ok)
	require.Equal(t, "b1", rt.account.ID)
	require.Equal(t, "qqbot:b1", rt.adapter.Name())

	_, ok = manager.forApp("missing")
	require.False(t, ok)

	rt, ok = manager.get("b2")
	require.True(t, ok)
	require.Equal(t, "app2", rt.adapter.AppID())

	list := manager.list()
	require.Len(t, list, 2)
	require.Equal(t, "b1", list[0].account.ID)
	require.Equal(t, "b2", list[1].account.ID)
}

func TestRuntimeManagerRejectsDuplicateAccount(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Tokens = []string{"b1:app1:tok:sec"}
	manager, err := newRuntimeManager(cfg, testShared(t), newFakeTransports().factory, nil)
	require.NoError(t, err)

	acc, err := config.ParseToken("b1:app9:tok:sec")
	require.NoError(t, err)
	_, err = manager.add(acc)
	require.ErrorContains(t, err, "already running")
}

func TestRuntimeManagerTransportFailure(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Tokens = []string{"b1:app1:tok:sec"}
	transports := newFakeTransports()
	transports.failOn = "app1"

	_, err := newRuntimeManager(cfg, testShared(t), transports.factory, nil)
	require.ErrorContains(t, err, "configure account b1")
	require.ErrorContains(t, err, "transport unavailable")
}

func TestRuntimeManagerProbeJoinsFailures(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Tokens = []string{"b1:app1:tok:sec", "b2:app2:tok:sec"}
	transports := newFakeTransports()
	manager, err := newRuntimeManager(cfg, testShared(t), transports.factory, nil)
	require.NoError(t, err)

	require.NoError(t, manager.probe(context.Background()))

	transports.get("app2").setMeErr(errors.New("401 unauthorized"))
	err = manager.probe(context.Background())
	require.ErrorContains(t, err, "account b2: 401 unauthorized")
	require.NotContains(t, err.Error(), "account b1")
}

func TestRuntimeManagerRejectsBadBinding(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Tokens = []string{"b1:app1:tok:sec"}
	cfg.CustomMarkdown = map[string]config.CustomMarkdown{
		"b1": {TemplateID: "tpl", Params: []config.ParamValue{{Values: []string{"x"}}}},
	}

	_, err := newRuntimeManager(cfg, testShared(t), newFakeTransports().factory, nil)
	require.ErrorContains(t, err, "param without key")
}
