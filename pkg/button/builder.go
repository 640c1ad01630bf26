// Package button turns ButtonSpec values into wire buttons and registers
// callback entries for buttons resolved on the server.
package button

import (
	"context"

	"github.com/google/uuid"

	"qqbot/pkg/callback"
	"qqbot/pkg/identity"
	"qqbot/pkg/message"
)

// DefaultUnsupportTips is shown by clients that cannot render a button.
const DefaultUnsupportTips = "当前客户端不支持此操作"

// Settings are the account options that change button encoding.
type Settings struct {
	AccountID string
	// ToCallback routes callback buttons through the server instead of
	// sending their text from the client.
	ToCallback bool
	// ToQQUin resolves allow-list ids through the alias table.
	ToQQUin bool
}

// Source describes the message a button is being built for.
type Source struct {
	MessageID string
	UserID    string
	GroupID   string
	// ReplyTo collects ids of the messages delivered by the current call.
	ReplyTo *callback.IDList
}

// Builder builds wire buttons for one account.
type Builder struct {
	settings Settings
	registry *callback.Registry
	aliases  identity.AliasResolver
	newID    func() string
}

type Option func(*Builder)

// WithIDFunc replaces the uuid generator.
func WithIDFunc(fn func() string) Option {
	return func(b *Builder) {
		if fn != nil {
			b.newID = fn
		}
	}
}

func NewBuilder(settings Settings, registry *callback.Registry, aliases identity.AliasResolver, opts ...Option) *Builder {
	b := &Builder{
		settings: settings,
		registry: registry,
		aliases:  aliases,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) Settings() Settings { return b.settings }

// Build encodes one button. It returns nil when spec has no action.
// When several actions are set, input wins over callback, callback over link.
func (b *Builder) Build(ctx context.Context, src Source, spec message.ButtonSpec) *message.Button {
	btn := &message.Button{
		ID: b.newID(),
		RenderData: message.RenderData{
			Label:        spec.Label,
			VisitedLabel: spec.ClickedLabel,
			Style:        1,
		},
	}
	if spec.Style != nil {
		btn.RenderData.Style = *spec.Style
	}

	action := message.Action{
		Permission:           message.ActionPermission{Type: message.PermissionEveryone},
		Reply:                spec.Reply,
		Enter:                spec.Enter,
		Anchor:               spec.Anchor,
		ClickLimit:           spec.ClickLimit,
		AtBotShowChannelList: spec.AtBotShowChannelList,
		UnsupportTips:        spec.UnsupportTips,
	}
	if action.UnsupportTips == "" {
		action.UnsupportTips = DefaultUnsupportTips
	}

	switch {
	case spec.Input != "":
		action.Type = actionType(spec, message.ActionInput)
		action.Data = spec.Input
		action.Enter = spec.AutoSend
	case spec.Callback != "":
		if b.settings.ToCallback || (spec.ActionType != nil && *spec.ActionType == message.ActionCallback) {
			action.Type = actionType(spec, message.ActionCallback)
			b.register(btn.ID, src, spec.Callback)
		} else {
			action.Type = actionType(spec, message.ActionInput)
			action.Data = spec.Callback
			action.Enter = true
		}
	case spec.Link != "":
		action.Type = actionType(spec, message.ActionLink)
		action.Data = spec.Link
	default:
		return nil
	}

	switch spec.Permission.Kind {
	case message.AdminOnly:
		action.Permission.Type = message.PermissionAdmin
	case message.AllowList:
		action.Permission.Type = message.PermissionSpecified
		action.Permission.SpecifyUserIDs = b.allowList(ctx, spec.Permission.UserIDs)
	}

	btn.Action = action
	return btn
}

// BuildRows builds one button element per row. Rows without a single valid
// button are left out.
func (b *Builder) BuildRows(ctx context.Context, src Source, rows [][]message.ButtonSpec) []message.Element {
	var out []message.Element
	for _, row := range rows {
		buttons := make([]message.Button, 0, len(row))
		for _, spec := range row {
			if btn := b.Build(ctx, src, spec); btn != nil {
				buttons = append(buttons, *btn)
			}
		}
		if len(buttons) > 0 {
			out = append(out, message.Element{Type: message.ElementButton, Buttons: buttons})
		}
	}
	return out
}

func (b *Builder) register(id string, src Source, text string) {
	if b.registry == nil {
		return
	}
	b.registry.Register(callback.Entry{
		ButtonID:        id,
		AccountID:       b.settings.AccountID,
		SourceMessageID: src.MessageID,
		UserID:          src.UserID,
		GroupID:         src.GroupID,
		ReplyText:       text,
		ReplyTo:         src.ReplyTo,
	})
}

func (b *Builder) allowList(ctx context.Context, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if b.settings.ToQQUin && b.aliases != nil {
			id = b.aliases.Resolve(ctx, id)
		}
		out = append(out, identity.StripAccount(b.settings.AccountID, id))
	}
	return out
}

func actionType(spec message.ButtonSpec, fallback int) int {
	if spec.ActionType != nil {
		return *spec.ActionType
	}
	return fallback
}
