package qqbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"qqbot/pkg/bus"
	"qqbot/pkg/button"
	"qqbot/pkg/callback"
	"qqbot/pkg/compose"
	"qqbot/pkg/delivery"
	"qqbot/pkg/identity"
	"qqbot/pkg/inbound"
	"qqbot/pkg/media"
	"qqbot/pkg/message"
	"qqbot/pkg/openapi"
)

type sentPacket struct {
	kind   openapi.Kind
	target openapi.Target
	packet message.Packet
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentPacket
	recalls []string
	acks    []int
	dms     int
}

func (f *fakeTransport) Send(_ context.Context, kind openapi.Kind, t openapi.Target, p message.Packet) (delivery.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{kind: kind, target: t, packet: p})
	return delivery.SendResponse{ID: "out" + string(rune('0'+len(f.sent)))}, nil
}

func (f *fakeTransport) Recall(_ context.Context, kind openapi.Kind, t openapi.Target, id string, hide bool) error {
	f.recalls = append(f.recalls, strings.Join([]string{string(kind), t.UserID + t.GroupID + t.ChannelID, id, map[bool]string{true: "hide", false: "show"}[hide]}, "|"))
	return nil
}

func (f *fakeTransport) CreateDMS(_ context.Context, userID, src string) (openapi.DMS, error) {
	f.dms++
	if src == "" {
		return openapi.DMS{}, errors.New("no source guild")
	}
	return openapi.DMS{GuildID: "dms-" + userID, ChannelID: "dc"}, nil
}

func (f *fakeTransport) Ack(_ context.Context, _ string, code int) error {
	f.acks = append(f.acks, code)
	return nil
}

type stubMedia struct{}

func (stubMedia) MarkdownImage(_ context.Context, file, summary string) (media.MarkdownImage, error) {
	return media.MarkdownImage{Des: "![" + summary + "]", URL: "(" + file + ")"}, nil
}
func (stubMedia) QRCode(context.Context, string) (string, error)      { return "base64://qr", nil }
func (stubMedia) HostURL(_ context.Context, f string) (string, error) { return f, nil }
func (stubMedia) Record(_ context.Context, f string) string           { return f }

type fixture struct {
	adapter   *Adapter
	transport *fakeTransport
	cache     *identity.Cache
	aliases   *identity.AliasCache
	registry  *callback.Registry
	bus       *bus.MessageBus
}

func newFixture(t *testing.T, cfg Config, opts compose.Options) *fixture {
	t.Helper()
	cfg.AccountID = "bot"
	opts.AccountID = "bot"

	f := &fixture{
		transport: &fakeTransport{},
		cache:     identity.NewCaches(nil).Account("bot"),
		aliases:   identity.NewAliasCache(),
		registry:  callback.NewRegistry(),
		bus:       bus.NewMessageBus(),
	}
	t.Cleanup(f.bus.Close)

	b := button.NewBuilder(button.Settings{AccountID: "bot", ToCallback: true, ToQQUin: cfg.ToQQUin}, f.registry, f.aliases)
	c := compose.New(opts, b, stubMedia{}, nil, f.aliases, nil)
	engine := delivery.NewEngine("bot", c, nil, nil)

	a, err := NewAdapter(cfg, Deps{
		Transport: f.transport,
		Engine:    engine,
		Cache:     f.cache,
		Aliases:   f.aliases,
		Registry:  f.registry,
		Bus:       f.bus,
	}, nil)
	require.NoError(t, err)
	f.adapter = a
	return f
}

func TestNewAdapterValidation(t *testing.T) {
	_, err := NewAdapter(Config{}, Deps{}, nil)
	require.Error(t, err)
	_, err = NewAdapter(Config{AccountID: "bot"}, Deps{}, nil)
	require.Error(t, err)
}

func TestSendGroupStripsAccount(t *testing.T) {
	f := newFixture(t, Config{}, compose.Options{})
	res := f.adapter.SendGroup(context.Background(), "bot:g1", "hello")

	require.True(t, res.Delivered)
	require.Equal(t, []string{"out1"}, res.MessageIDs)
	require.Len(t, f.transport.sent, 1)
	require.Equal(t, openapi.KindGroup, f.transport.sent[0].kind)
	require.Equal(t, "g1", f.transport.sent[0].target.GroupID)
}

func TestSendFriendResolvesAlias(t *testing.T) {
	f := newFixture(t, Config{ToQQUin: true}, compose.Options{})
	f.aliases.Set("10001", "bot:u1")

	f.adapter.SendFriend(context.Background(), "10001", "hi")
	require.Equal(t, "u1", f.transport.sent[0].target.UserID)
}

func TestSendGuildRejectsBadID(t *testing.T) {
	f := newFixture(t, Config{}, compose.Options{})
	res := f.adapter.SendGuild(context.Background(), "bot:g1", "x")
	require.Len(t, res.Errors, 1)
	require.Equal(t, delivery.ErrorLookupMiss, delivery.CategoryFromError(res.Errors[0]))

	res = f.adapter.SendGuild(context.Background(), "qg_G-C", "x")
	require.True(t, res.Delivered)
	require.Equal(t, openapi.Target{GuildID: "G", ChannelID: "C"}, f.transport.sent[0].target)
}

func TestSendDirectOpensSession(t *testing.T) {
	f := newFixture(t, Config{}, compose.Options{})
	f.cache.UpsertFriend("qg_7", identity.Record{"src_guild_id": "G"})

	res := f.adapter.SendDirect(context.Background(), "qg_7", "hi")
	require.True(t, res.Delivered)
	require.Equal(t, 1, f.transport.dms)
	require.Equal(t, openapi.Target{UserID: "7", GuildID: "dms-7", ChannelID: "dc"}, f.transport.sent[0].target)

	f.adapter.SendDirect(context.Background(), "qg_7", "again")
	require.Equal(t, 1, f.transport.dms)

	res = f.adapter.SendDirect(context.Background(), "qg_unknown", "x")
	require.Equal(t, delivery.ErrorLookupMiss, delivery.CategoryFromError(res.Errors[0]))
}

func TestReplyIsPassive(t *testing.T) {
	f := newFixture(t, Config{}, compose.Options{})
	f.adapter.Reply(context.Background(), inbound.ReplyTarget{Kind: delivery.KindGroup, GroupID: "g1", MessageID: "m9"}, []message.Segment{message.Text("pong")})

	p := f.transport.sent[0].packet
	require.Equal(t, message.ElementReply, p[0].Type)
	require.Equal(t, "m9", p[0].ID)
}

func TestWithPassiveReplyKeepsExplicitReply(t *testing.T) {
	p := message.Packet{{Type: message.ElementReply, ID: "x"}, {Type: message.ElementText, Text: "t"}}
	require.Equal(t, p, withPassiveReply(p, "m"))
	require.Equal(t, p[1:], withPassiveReply(p[1:], ""))
}

func TestRecall(t *testing.T) {
	f := newFixture(t, Config{HideGuildRecall: true}, compose.Options{})
	ctx := context.Background()

	require.NoError(t, f.adapter.RecallGroup(ctx, "bot:g1", "m1"))
	require.NoError(t, f.adapter.RecallGuild(ctx, "qg_G-C", "m2"))
	require.NoError(t, f.adapter.RecallFriend(ctx, "bot:u1", "m3"))
	require.Error(t, f.adapter.RecallGuild(ctx, "g", "m4"))

	require.Equal(t, []string{"group|g1|m1|show", "guild|C|m2|hide", "friend|u1|m3|show"}, f.transport.recalls)
}

func TestPickViews(t *testing.T) {
	f := newFixture(t, Config{}, compose.Options{})
	f.cache.UpsertMember("bot:g1", "bot:u1", identity.Record{"card": "Amy"})

	view := f.adapter.PickMember("bot:g1", "bot:u1")
	require.Equal(t, "Amy", view.Info["card"])
	require.Equal(t, "bot", view.Info["self_id"])

	view.Info["card"] = "changed"
	again := f.adapter.PickMember("bot:g1", "bot:u1")
	require.Equal(t, "Amy", again.Info["card"])

	require.Equal(t, "bot:g9", f.adapter.PickGroup("bot:g9").Info["group_id"])
}

func TestRunRepliesThroughHandler(t *testing.T) {
	f := newFixture(t, Config{}, compose.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.adapter.Run(ctx, func(_ context.Context, msg *inbound.Message) ([]message.Segment, error) {
			return []message.Segment{message.Text("echo " + msg.RawMessage)}, nil
		})
	}()

	require.Eventually(t, func() bool {
		return len(f.bus.Handlers("message.private.friend")) == 1
	}, time.Second, 10*time.Millisecond)

	body := []byte(`{"op":0,"t":"C2C_MESSAGE_CREATE","d":{"id":"m1","author":{"user_openid":"u1"},"content":"hi"}}`)
	_, err := f.adapter.HandleWebhook(ctx, body)
	require.NoError(t, err)

	f.transport.mu.Lock()
	require.Len(t, f.transport.sent, 1)
	sent := f.transport.sent[0]
	f.transport.mu.Unlock()
	require.Equal(t, "u1", sent.target.UserID)
	require.Equal(t, "m1", sent.packet[0].ID)
	require.Equal(t, "echo hi", sent.packet[1].Text)

	cancel()
	require.NoError(t, <-done)
}

func TestCallbackRoundTrip(t *testing.T) {
	f := newFixture(t, Config{}, compose.Options{Binding: compose.RawBinding()})
	var clicked *inbound.Message
	f.bus.RegisterHandler("message.group.callback", func(_ context.Context, ev bus.Event) error {
		clicked = ev.Data.(*inbound.Message)
		return nil
	})

	res := f.adapter.SendGroup(context.Background(), "bot:g1", []message.Segment{
		message.Text("pick"),
		message.Buttons([]message.ButtonSpec{message.CallbackButton("A", "/a")}),
	})
	require.True(t, res.Delivered)

	var buttonID string
	for _, p := range f.transport.sent {
		for _, el := range p.packet {
			if el.Type == message.ElementButton {
				buttonID = el.Buttons[0].ID
			}
		}
	}
	require.NotEmpty(t, buttonID)

	click := []byte(`{"op":0,"t":"INTERACTION_CREATE","d":{"id":"i1","chat_type":1,"group_openid":"g1","group_member_openid":"u1","data":{"resolved":{"button_id":"` + buttonID + `"}}}}`)
	_, err := f.adapter.HandleWebhook(context.Background(), click)
	require.NoError(t, err)

	require.NotNil(t, clicked)
	require.Equal(t, "bot:g1", clicked.GroupID)
	require.Equal(t, []message.Segment{message.Reply("out1"), message.Text("/a")}, clicked.Segments)
	require.Equal(t, []int{inbound.AckOK}, f.transport.acks)
}

func TestPreviewTextCutsOnRuneBoundary(t *testing.T) {
	require.Equal(t, "你好", previewText("  你好  "))

	long := strings.Repeat("消息", messagePreviewLimit)
	got := previewText(long)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, messagePreviewLimit+3, utf8.RuneCountInString(got))
	require.True(t, strings.HasSuffix(got, "..."))
}
