// Package qqbot is the per-account adapter: it exposes the send and recall
// API per target kind, the identity views and the inbound entry points.
package qqbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"qqbot/pkg/bus"
	"qqbot/pkg/callback"
	"qqbot/pkg/channel"
	"qqbot/pkg/compose"
	"qqbot/pkg/delivery"
	"qqbot/pkg/identity"
	"qqbot/pkg/inbound"
	"qqbot/pkg/logger"
	"qqbot/pkg/message"
	"qqbot/pkg/openapi"
	"qqbot/pkg/telemetry"
)

const channelName = "qqbot"
const messagePreviewLimit = 240

// Transport is what the adapter needs from the OpenAPI client.
type Transport interface {
	Send(ctx context.Context, kind openapi.Kind, t openapi.Target, packet message.Packet) (delivery.SendResponse, error)
	Recall(ctx context.Context, kind openapi.Kind, t openapi.Target, messageID string, hide bool) error
	CreateDMS(ctx context.Context, userID, srcGuildID string) (openapi.DMS, error)
	Ack(ctx context.Context, interactionID string, code int) error
}

// Config of one adapter instance.
type Config struct {
	AccountID string
	AppID     string
	Secret    string
	// HideGuildRecall suppresses the recall notice in guild channels.
	HideGuildRecall bool
	ToQQUin         bool
	Inbound         inbound.Options
}

// Deps are the shared collaborators of an adapter.
type Deps struct {
	Transport Transport
	Engine    *delivery.Engine
	Cache     *identity.Cache
	Aliases   *identity.AliasCache
	Registry  *callback.Registry
	Bus       *bus.MessageBus
	Finder    inbound.IDFinder
	Telemetry telemetry.Recorder
	Evaluator inbound.Evaluator
}

// Adapter is one running bot account.
type Adapter struct {
	cfg        Config
	transport  Transport
	engine     *delivery.Engine
	cache      *identity.Cache
	aliases    *identity.AliasCache
	bus        *bus.MessageBus
	normalizer *inbound.Normalizer
	log        *slog.Logger
}

// NewAdapter validates configuration and wires the inbound normalizer to the
// adapter's own reply path.
func NewAdapter(cfg Config, deps Deps, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, errors.New("account id is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("delivery engine is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = identity.NewCaches(nil).Account(cfg.AccountID)
	}
	if deps.Bus == nil {
		deps.Bus = bus.NewMessageBus()
	}

	a := &Adapter{
		cfg:       cfg,
		transport: deps.Transport,
		engine:    deps.Engine,
		cache:     deps.Cache,
		aliases:   deps.Aliases,
		bus:       deps.Bus,
		log:       logger.Account(log, "channel.qqbot", cfg.AccountID),
	}
	opts := cfg.Inbound
	opts.AccountID = cfg.AccountID
	opts.ToQQUin = cfg.ToQQUin
	a.normalizer = inbound.New(opts, inbound.Deps{
		Cache:     deps.Cache,
		Aliases:   deps.Aliases,
		Finder:    deps.Finder,
		Registry:  deps.Registry,
		Replier:   a,
		Acker:     deps.Transport,
		Bus:       deps.Bus,
		Telemetry: deps.Telemetry,
		Evaluator: deps.Evaluator,
		Log:       log,
	})
	return a, nil
}

// Name returns the channel identifier used in logs.
func (a *Adapter) Name() string {
	return channelName + ":" + a.cfg.AccountID
}

func (a *Adapter) AccountID() string { return a.cfg.AccountID }

func (a *Adapter) AppID() string { return a.cfg.AppID }

func (a *Adapter) Normalizer() *inbound.Normalizer { return a.normalizer }

// Run forwards this account's inbound messages to handler and sends back
// what it returns, until ctx is done. Events arrive through HandleWebhook.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	a.bus.RegisterHandler("message", func(ctx context.Context, ev bus.Event) error {
		if ev.AccountID != a.cfg.AccountID {
			return nil
		}
		msg, ok := ev.Data.(*inbound.Message)
		if !ok {
			return nil
		}
		segs, err := handler(ctx, msg)
		if err != nil {
			a.log.Error("Failed to process inbound message", "event", ev.Name, "error", err)
			return err
		}
		if len(segs) == 0 {
			return nil
		}
		res := a.Reply(ctx, msg.Target, segs)
		for _, err := range res.Errors {
			a.log.Error("Failed to send reply", "event", ev.Name, "error", err)
		}
		return nil
	})

	a.log.Info("QQBot channel started", "app_id", a.cfg.AppID)
	<-ctx.Done()
	return nil
}

// HandleWebhook answers one webhook request body for this account.
func (a *Adapter) HandleWebhook(ctx context.Context, body []byte) (any, error) {
	return a.normalizer.HandleWebhook(ctx, a.cfg.Secret, body)
}

// Reply implements inbound.Replier.
func (a *Adapter) Reply(ctx context.Context, t inbound.ReplyTarget, segs []message.Segment) delivery.Result {
	target := openapi.Target{UserID: t.UserID, GroupID: t.GroupID, GuildID: t.GuildID, ChannelID: t.ChannelID}
	ct := compose.Target{MessageID: t.MessageID}
	switch t.Kind {
	case delivery.KindFriend:
		ct.UserID = identity.Composite(a.cfg.AccountID, t.UserID)
	case delivery.KindGroup:
		ct.GroupID = identity.Composite(a.cfg.AccountID, t.GroupID)
	case delivery.KindGuild:
		ct.GroupID = identity.GuildGroup(t.GuildID, t.ChannelID)
	case delivery.KindDirect:
		ct.UserID = identity.GuildUser(t.UserID)
	}
	return a.send(ctx, t.Kind, target, ct, segs)
}

// SendFriend sends content to a friend. userID may be composite or a
// custom alias.
func (a *Adapter) SendFriend(ctx context.Context, userID string, content any) delivery.Result {
	raw := a.platformID(ctx, userID)
	ct := compose.Target{UserID: identity.Composite(a.cfg.AccountID, raw)}
	return a.send(ctx, delivery.KindFriend, openapi.Target{UserID: raw}, ct, message.Normalize(content))
}

// SendGroup sends content to a group.
func (a *Adapter) SendGroup(ctx context.Context, groupID string, content any) delivery.Result {
	raw := identity.StripAccount(a.cfg.AccountID, groupID)
	ct := compose.Target{GroupID: identity.Composite(a.cfg.AccountID, raw)}
	return a.send(ctx, delivery.KindGroup, openapi.Target{GroupID: raw}, ct, message.Normalize(content))
}

// SendGuild sends content to a guild channel given as qg_<guild>-<channel>.
func (a *Adapter) SendGuild(ctx context.Context, groupID string, content any) delivery.Result {
	guildID, channelID, ok := identity.SplitGuildGroup(groupID)
	if !ok {
		return failed(delivery.ErrorLookupMiss, "not a guild channel id: "+groupID)
	}
	ct := compose.Target{GroupID: groupID}
	return a.send(ctx, delivery.KindGuild, openapi.Target{GuildID: guildID, ChannelID: channelID}, ct, message.Normalize(content))
}

// SendDirect sends a guild direct message to qg_<user>, opening a session
// from the user's source guild when none is cached.
func (a *Adapter) SendDirect(ctx context.Context, userID string, content any) delivery.Result {
	target, err := a.directTarget(ctx, userID)
	if err != nil {
		return delivery.Result{Errors: []error{delivery.Wrap(err)}}
	}
	ct := compose.Target{UserID: userID}
	return a.send(ctx, delivery.KindDirect, target, ct, message.Normalize(content))
}

func (a *Adapter) directTarget(ctx context.Context, userID string) (openapi.Target, error) {
	rec, _ := a.cache.Friend(userID)
	raw := strings.TrimPrefix(userID, identity.GuildPrefix)
	if rec["guild_id"] != "" {
		return openapi.Target{UserID: raw, GuildID: rec["guild_id"], ChannelID: rec["channel_id"]}, nil
	}
	src := firstNonEmpty(rec["src_guild_id"], rec["guild_id"])
	if src == "" {
		return openapi.Target{}, delivery.NewError(delivery.ErrorLookupMiss, "no guild known for "+userID)
	}
	dms, err := a.transport.CreateDMS(ctx, raw, src)
	if err != nil {
		return openapi.Target{}, fmt.Errorf("create direct message session: %w", err)
	}
	a.cache.UpsertFriend(userID, identity.Record{"guild_id": dms.GuildID, "channel_id": dms.ChannelID})
	return openapi.Target{UserID: raw, GuildID: dms.GuildID, ChannelID: dms.ChannelID}, nil
}

func (a *Adapter) send(ctx context.Context, kind delivery.Kind, target openapi.Target, ct compose.Target, segs []message.Segment) delivery.Result {
	ct.ReplyTo = &callback.IDList{}
	ct.Context = a.context(ct)

	a.log.Info("Sending message", "kind", kind, "user_id", ct.UserID, "group_id", ct.GroupID, "content", previewText(inbound.RawText(segs)))
	res := a.engine.Send(ctx, delivery.Request{
		Kind:     kind,
		Target:   ct,
		Segments: segs,
		Transmit: func(ctx context.Context, p message.Packet) (delivery.SendResponse, error) {
			return a.transport.Send(ctx, openapi.Kind(kind), target, withPassiveReply(p, ct.MessageID))
		},
	})
	return res
}

// context builds the suffix template data for a call.
func (a *Adapter) context(ct compose.Target) map[string]any {
	var friend, group, member identity.Record
	if ct.UserID != "" {
		friend = a.cache.PickFriend(ct.UserID, nil).Info
	}
	if ct.GroupID != "" {
		group = a.cache.PickGroup(ct.GroupID, nil).Info
		if ct.UserID != "" {
			member = a.cache.PickMember(ct.GroupID, ct.UserID, nil).Info
		}
	}
	return identity.Context(a.cfg.AccountID, ct.UserID, ct.GroupID, friend, group, member)
}

// withPassiveReply marks p as a reply to messageID unless it already
// quotes a message.
func withPassiveReply(p message.Packet, messageID string) message.Packet {
	if messageID == "" {
		return p
	}
	for _, el := range p {
		if el.Type == message.ElementReply {
			return p
		}
	}
	return append(message.Packet{{Type: message.ElementReply, ID: messageID}}, p...)
}

// RecallFriend deletes a friend message.
func (a *Adapter) RecallFriend(ctx context.Context, userID, messageID string) error {
	return a.transport.Recall(ctx, openapi.KindFriend, openapi.Target{UserID: a.platformID(ctx, userID)}, messageID, false)
}

func (a *Adapter) RecallGroup(ctx context.Context, groupID, messageID string) error {
	raw := identity.StripAccount(a.cfg.AccountID, groupID)
	return a.transport.Recall(ctx, openapi.KindGroup, openapi.Target{GroupID: raw}, messageID, false)
}

func (a *Adapter) RecallGuild(ctx context.Context, groupID, messageID string) error {
	guildID, channelID, ok := identity.SplitGuildGroup(groupID)
	if !ok {
		return delivery.NewError(delivery.ErrorLookupMiss, "not a guild channel id: "+groupID)
	}
	return a.transport.Recall(ctx, openapi.KindGuild, openapi.Target{GuildID: guildID, ChannelID: channelID}, messageID, a.cfg.HideGuildRecall)
}

func (a *Adapter) RecallDirect(ctx context.Context, userID, messageID string) error {
	target, err := a.directTarget(ctx, userID)
	if err != nil {
		return err
	}
	return a.transport.Recall(ctx, openapi.KindDirect, target, messageID, a.cfg.HideGuildRecall)
}

// PickFriend returns a snapshot of a friend.
func (a *Adapter) PickFriend(userID string) identity.FriendView {
	return a.cache.PickFriend(userID, identity.Record{"self_id": a.cfg.AccountID})
}

func (a *Adapter) PickGroup(groupID string) identity.GroupView {
	return a.cache.PickGroup(groupID, identity.Record{"self_id": a.cfg.AccountID})
}

func (a *Adapter) PickMember(groupID, userID string) identity.MemberView {
	return a.cache.PickMember(groupID, userID, identity.Record{"self_id": a.cfg.AccountID})
}

// platformID resolves aliases and strips the account qualifier.
func (a *Adapter) platformID(ctx context.Context, id string) string {
	if a.cfg.ToQQUin && a.aliases != nil {
		id = a.aliases.Resolve(ctx, id)
	}
	return identity.StripAccount(a.cfg.AccountID, id)
}

func failed(category, detail string) delivery.Result {
	return delivery.Result{Errors: []error{delivery.NewError(category, detail)}}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// previewText returns a bounded log-safe preview of message text, cut on a
// rune boundary.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return string([]rune(trimmed)[:messagePreviewLimit]) + "..."
}
