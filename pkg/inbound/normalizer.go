// Package inbound turns platform events into canonical messages, notices and
// forum events, keeps the identity caches current and emits bus events.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"qqbot/pkg/bus"
	"qqbot/pkg/callback"
	"qqbot/pkg/delivery"
	"qqbot/pkg/identity"
	"qqbot/pkg/logger"
	"qqbot/pkg/message"
	"qqbot/pkg/telemetry"
)

// Interaction ack codes.
const (
	AckOK     = 0
	AckFailed = 1
)

// Acker answers a button interaction.
type Acker interface {
	Ack(ctx context.Context, interactionID string, code int) error
}

// IDFinder looks up the custom id a user is known by outside the platform.
type IDFinder interface {
	FindUserID(ctx context.Context, userID string) (custom string, ok bool)
}

// Evaluator expands expressions in welcome text.
type Evaluator interface {
	Evaluate(expr string, data map[string]any) (string, error)
}

// Options are the per-account inbound settings.
type Options struct {
	AccountID string
	ToQQUin   bool
	// FilterLog lists raw messages logged at debug instead of info.
	FilterLog []string
	// Welcome is sent to a group when the bot joins it.
	Welcome []message.Segment
}

// Deps are the collaborators of a Normalizer. Nil fields disable the
// feature that needs them.
type Deps struct {
	Cache     *identity.Cache
	Aliases   *identity.AliasCache
	Finder    IDFinder
	Registry  *callback.Registry
	Replier   Replier
	Acker     Acker
	Bus       *bus.MessageBus
	Telemetry telemetry.Recorder
	Evaluator Evaluator
	Log       *slog.Logger
}

// Normalizer handles the inbound events of one account.
type Normalizer struct {
	opts Options
	deps Deps
	log  *slog.Logger
}

func New(opts Options, deps Deps) *Normalizer {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop{}
	}
	if deps.Cache == nil {
		deps.Cache = identity.NewCaches(nil).Account(opts.AccountID)
	}
	if deps.Registry == nil {
		deps.Registry = callback.NewRegistry()
	}
	return &Normalizer{
		opts: opts,
		deps: deps,
		log:  logger.Account(deps.Log, "inbound", opts.AccountID),
	}
}

// Dispatch routes one platform event by its type.
func (n *Normalizer) Dispatch(ctx context.Context, eventType string, data []byte) error {
	decode := func(v any) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return nil
	}

	switch eventType {
	case EventC2CMessage:
		var ev MessageEvent
		if err := decode(&ev); err != nil {
			return err
		}
		_, err := n.FriendMessage(ctx, ev, data)
		return err
	case EventGroupAtMessage, EventGroupMessage:
		var ev MessageEvent
		if err := decode(&ev); err != nil {
			return err
		}
		_, err := n.GroupMessage(ctx, ev, data)
		return err
	case EventDirectMessage:
		var ev MessageEvent
		if err := decode(&ev); err != nil {
			return err
		}
		_, err := n.DirectMessage(ctx, ev, data)
		return err
	case EventGuildAtMessage, EventGuildMessage:
		var ev MessageEvent
		if err := decode(&ev); err != nil {
			return err
		}
		sub := "public"
		if eventType == EventGuildMessage {
			sub = "private"
		}
		_, err := n.GuildMessage(ctx, sub, ev, data)
		return err
	case EventInteraction:
		var ev Interaction
		if err := decode(&ev); err != nil {
			return err
		}
		_, err := n.Click(ctx, ev, data)
		return err
	}

	if kind, ok := noticeEvents[eventType]; ok {
		return n.Notice(ctx, kind[0], kind[1], data)
	}
	if name, ok := forumEvents[eventType]; ok {
		_, err := n.Forum(ctx, name, data)
		return err
	}
	n.log.Debug("unhandled event", "type", eventType, "data", string(data))
	return nil
}

func (n *Normalizer) newMessage(messageType, subType string, ev MessageEvent, raw []byte) *Message {
	segs := ParseContent(ev)
	for i := range segs {
		if segs[i].Type != message.TypeAt {
			continue
		}
		if messageType == "group" {
			segs[i].Target = identity.Composite(n.opts.AccountID, segs[i].Target)
		} else {
			segs[i].Target = identity.GuildUser(segs[i].Target)
		}
	}
	return &Message{
		PostType:    "message",
		MessageType: messageType,
		SubType:     subType,
		MessageID:   ev.ID,
		AccountID:   n.opts.AccountID,
		Segments:    segs,
		RawMessage:  RawText(segs),
		Raw:         json.RawMessage(raw),
		replier:     n.deps.Replier,
	}
}

// FriendMessage handles a direct (C2C) chat message.
func (n *Normalizer) FriendMessage(ctx context.Context, ev MessageEvent, raw []byte) (*Message, error) {
	msg := n.newMessage("private", "friend", ev, raw)
	msg.UserID = identity.Composite(n.opts.AccountID, ev.Author.UserID())
	msg.Sender = identity.Record{"user_id": msg.UserID}
	msg.Target = ReplyTarget{Kind: delivery.KindFriend, UserID: ev.Author.UserID(), MessageID: ev.ID}

	n.logAt(msg.RawMessage, "friend message", "user_id", msg.UserID, "message", msg.RawMessage)
	n.setFriend(msg)
	return msg, n.emitMessage(ctx, msg, delivery.KindFriend)
}

// GroupMessage handles a group chat message that mentions the bot.
func (n *Normalizer) GroupMessage(ctx context.Context, ev MessageEvent, raw []byte) (*Message, error) {
	msg := n.newMessage("group", "normal", ev, raw)
	msg.UserID = identity.Composite(n.opts.AccountID, ev.Author.UserID())
	msg.GroupID = identity.Composite(n.opts.AccountID, ev.Group())
	msg.Sender = identity.Record{"user_id": msg.UserID}
	msg.Target = ReplyTarget{Kind: delivery.KindGroup, GroupID: ev.Group(), MessageID: ev.ID}
	n.resolveAlias(ctx, msg)

	n.logAt(msg.RawMessage, "group message", "group_id", msg.GroupID, "user_id", msg.UserID, "message", msg.RawMessage)
	n.setGroup(msg)
	return msg, n.emitMessage(ctx, msg, delivery.KindGroup)
}

// DirectMessage handles a guild direct message.
func (n *Normalizer) DirectMessage(ctx context.Context, ev MessageEvent, raw []byte) (*Message, error) {
	msg := n.newMessage("private", "direct", ev, raw)
	msg.UserID = identity.GuildUser(ev.Author.ID)
	msg.Sender = identity.Record{
		"user_id":      msg.UserID,
		"nickname":     ev.Author.Username,
		"avatar":       ev.Author.Avatar,
		"guild_id":     ev.GuildID,
		"channel_id":   ev.ChannelID,
		"src_guild_id": ev.SrcGuildID,
	}
	msg.Target = ReplyTarget{
		Kind:      delivery.KindDirect,
		UserID:    ev.Author.ID,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.ID,
	}

	n.logAt(msg.RawMessage, "direct message", "user_id", msg.UserID, "nickname", ev.Author.Username, "message", msg.RawMessage)
	msg.Sender = n.setFriend(msg)
	return msg, n.emitMessage(ctx, msg, delivery.KindDirect)
}

// GuildMessage handles a guild channel message.
func (n *Normalizer) GuildMessage(ctx context.Context, subType string, ev MessageEvent, raw []byte) (*Message, error) {
	msg := n.newMessage("guild", subType, ev, raw)
	msg.MessageType = "group"
	msg.UserID = identity.GuildUser(ev.Author.ID)
	msg.GroupID = identity.GuildGroup(ev.GuildID, ev.ChannelID)
	msg.Sender = identity.Record{
		"user_id":        msg.UserID,
		"nickname":       ev.Author.Username,
		"card":           ev.Member.Nick,
		"avatar":         ev.Author.Avatar,
		"src_guild_id":   ev.GuildID,
		"src_channel_id": ev.ChannelID,
	}
	msg.Target = ReplyTarget{Kind: delivery.KindGuild, GuildID: ev.GuildID, ChannelID: ev.ChannelID, MessageID: ev.ID}
	n.resolveAlias(ctx, msg)
	if len(msg.Segments) == 0 {
		msg.Segments = []message.Segment{message.Text("")}
	}

	n.logAt(msg.RawMessage, "guild message", "group_id", msg.GroupID, "user_id", msg.UserID, "nickname", ev.Author.Username, "message", msg.RawMessage)
	msg.Sender = n.setFriend(msg)
	n.setGroup(msg)
	return msg, n.emitMessage(ctx, msg, delivery.KindGuild)
}

// Click handles a button interaction. It always acks with AckOK; a click
// that matches no registered button and carries no data is acked with
// AckFailed first.
func (n *Normalizer) Click(ctx context.Context, ev Interaction, raw []byte) (*Message, error) {
	msg := &Message{
		PostType:    "message",
		MessageType: ev.NoticeType(),
		SubType:     "callback",
		MessageID:   ev.ID,
		AccountID:   n.opts.AccountID,
		UserID:      identity.Composite(n.opts.AccountID, ev.OperatorID()),
		Raw:         json.RawMessage(raw),
		replier:     n.deps.Replier,
	}
	msg.Sender = identity.Record{"user_id": msg.UserID}

	groupID := ev.GroupOpenID
	resolved := ev.Data.Resolved
	var rawText strings.Builder
	if entry, ok := n.deps.Registry.Lookup(resolved.ButtonID); ok {
		if groupID == "" && entry.GroupID != "" {
			groupID = identity.StripAccount(n.opts.AccountID, entry.GroupID)
		}
		msg.MessageID = entry.SourceMessageID
		if ids := entry.ReplyTo.IDs(); len(ids) > 0 {
			for _, id := range ids {
				msg.Segments = append(msg.Segments, message.Reply(id))
			}
			rawText.WriteString("[回复：" + strings.Join(ids, ",") + "]")
		}
		msg.Segments = append(msg.Segments, message.Text(entry.ReplyText))
		rawText.WriteString(entry.ReplyText)
	} else {
		if resolved.ButtonID != "" {
			msg.Segments = append(msg.Segments, message.Reply(resolved.ButtonID))
			rawText.WriteString("[回复：" + resolved.ButtonID + "]")
		}
		if resolved.ButtonData != "" {
			msg.Segments = append(msg.Segments, message.Text(resolved.ButtonData))
			rawText.WriteString(resolved.ButtonData)
		} else {
			n.ack(ctx, ev.ID, AckFailed)
		}
	}
	n.ack(ctx, ev.ID, AckOK)
	msg.RawMessage = rawText.String()

	switch msg.MessageType {
	case "friend":
		msg.MessageType = "private"
		msg.Target = ReplyTarget{Kind: delivery.KindFriend, UserID: ev.OperatorID(), MessageID: msg.MessageID}
		n.log.Info("friend button click", "user_id", msg.UserID, "message", msg.RawMessage)
		n.setFriend(msg)
	case "group":
		msg.GroupID = identity.Composite(n.opts.AccountID, groupID)
		msg.Target = ReplyTarget{Kind: delivery.KindGroup, GroupID: groupID, MessageID: msg.MessageID}
		n.log.Info("group button click", "group_id", msg.GroupID, "user_id", msg.UserID, "message", msg.RawMessage)
		n.setGroup(msg)
	case "guild":
	default:
		n.log.Warn("unknown button click", "chat_type", ev.ChatType, "raw", string(raw))
	}

	return msg, n.emit(ctx, msg.EventName(), msg)
}

// Notice handles membership and reception changes.
func (n *Normalizer) Notice(ctx context.Context, noticeType, subType string, raw []byte) error {
	var ev struct {
		GroupOpenID    string `json:"group_openid"`
		OpMemberOpenID string `json:"op_member_openid"`
		OpenID         string `json:"openid"`
		GuildID        string `json:"guild_id"`
		UserID         string `json:"user_id"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("decode notice: %w", err)
		}
	}
	notice := &Notice{
		PostType:   "notice",
		NoticeType: noticeType,
		SubType:    subType,
		AccountID:  n.opts.AccountID,
		GroupID:    identity.Composite(n.opts.AccountID, ev.GroupOpenID),
		UserID:     identity.Composite(n.opts.AccountID, firstNonEmpty(ev.OpMemberOpenID, ev.OpenID, ev.UserID)),
		Raw:        json.RawMessage(raw),
	}

	switch subType {
	case "increase":
		n.deps.Telemetry.RecordEvent(n.opts.AccountID, noticeType+"_increase")
		n.log.Info("notice", "type", noticeType, "sub_type", subType, "group_id", notice.GroupID, "user_id", notice.UserID)
		if noticeType == "group" && ev.GroupOpenID != "" {
			n.welcome(ctx, notice, ev.GroupOpenID)
		}
		return nil
	case "decrease":
		n.deps.Telemetry.RecordEvent(n.opts.AccountID, noticeType+"_decrease")
		n.log.Info("notice", "type", noticeType, "sub_type", subType, "group_id", notice.GroupID, "user_id", notice.UserID)
		return nil
	case "receive_open", "receive_close":
		n.log.Info("notice", "type", noticeType, "sub_type", subType, "group_id", notice.GroupID, "user_id", notice.UserID)
		return n.emit(ctx, notice.EventName(), notice)
	case "update", "member.increase", "member.decrease", "member.update", "add", "remove":
		return nil
	default:
		n.log.Debug("unknown notice", "type", noticeType, "sub_type", subType, "raw", string(raw))
		return nil
	}
}

func (n *Normalizer) welcome(ctx context.Context, notice *Notice, groupID string) {
	if len(n.opts.Welcome) == 0 || n.deps.Replier == nil {
		return
	}
	segs := make([]message.Segment, len(n.opts.Welcome))
	copy(segs, n.opts.Welcome)
	if n.deps.Evaluator != nil {
		data := map[string]any{
			"group_id": notice.GroupID,
			"user_id":  notice.UserID,
			"self_id":  n.opts.AccountID,
		}
		for i := range segs {
			if segs[i].Type != message.TypeText {
				continue
			}
			text, err := n.deps.Evaluator.Evaluate(segs[i].Text, data)
			if err != nil {
				n.log.Warn("render welcome message failed", "error", err)
				continue
			}
			segs[i].Text = text
		}
	}
	res := n.deps.Replier.Reply(ctx, ReplyTarget{Kind: delivery.KindGroup, GroupID: groupID}, segs)
	for _, err := range res.Errors {
		n.log.Warn("send welcome message failed", "group_id", notice.GroupID, "error", err)
	}
}

func (n *Normalizer) emitMessage(ctx context.Context, msg *Message, kind delivery.Kind) error {
	n.deps.Telemetry.RecordReceived(n.opts.AccountID, string(kind))
	return n.emit(ctx, msg.EventName(), msg)
}

func (n *Normalizer) emit(ctx context.Context, name string, data any) error {
	if n.deps.Bus == nil {
		return nil
	}
	err := n.deps.Bus.Emit(ctx, bus.Event{Name: name, AccountID: n.opts.AccountID, Data: data})
	if err != nil {
		n.log.Warn("event handler failed", "event", name, "error", err)
	}
	return err
}

func (n *Normalizer) ack(ctx context.Context, id string, code int) {
	if n.deps.Acker == nil || id == "" {
		return
	}
	if err := n.deps.Acker.Ack(ctx, id, code); err != nil {
		n.log.Debug("ack interaction failed", "id", id, "code", code, "error", err)
	}
}

// resolveAlias replaces the sender id with its custom id and records the
// mapping so outbound calls can translate it back.
func (n *Normalizer) resolveAlias(ctx context.Context, msg *Message) {
	if !n.opts.ToQQUin || n.deps.Finder == nil {
		return
	}
	custom, ok := n.deps.Finder.FindUserID(ctx, msg.UserID)
	if !ok || custom == "" {
		return
	}
	if n.deps.Aliases != nil {
		n.deps.Aliases.Set(custom, msg.UserID)
	}
	msg.UserID = custom
	msg.Sender["user_id"] = custom
}

func (n *Normalizer) setFriend(msg *Message) identity.Record {
	if msg.UserID == "" {
		return msg.Sender
	}
	return n.deps.Cache.UpsertFriend(msg.UserID, msg.Sender)
}

func (n *Normalizer) setGroup(msg *Message) {
	if msg.GroupID == "" {
		return
	}
	n.deps.Cache.UpsertGroup(msg.GroupID, identity.Record{"group_id": msg.GroupID})
	n.deps.Cache.UpsertMember(msg.GroupID, msg.UserID, msg.Sender)
}

// logAt logs at info unless raw is in the account's filter list.
func (n *Normalizer) logAt(raw, msg string, args ...any) {
	if slices.Contains(n.opts.FilterLog, strings.TrimSpace(raw)) {
		n.log.Debug(msg, args...)
		return
	}
	n.log.Info(msg, args...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
