package message

import (
	"errors"
	"math/rand/v2"
)

// PermissionKind selects who may click a button.
type PermissionKind int

const (
	Everyone PermissionKind = iota
	AdminOnly
	AllowList
)

// Permission restricts button activation.
type Permission struct {
	Kind    PermissionKind `json:"kind"`
	UserIDs []string       `json:"user_ids,omitempty"`
}

// ShowRule decides whether an optional button or suffix entry is rendered.
type ShowRule struct {
	// Type is "random" for a percentage draw; other values always show.
	Type string `json:"type"`
	// Percent is the chance, 1-100, that the entry is kept.
	Percent int `json:"data"`
}

// Keep reports whether the entry survives the rule. A nil rule always keeps.
func (r *ShowRule) Keep() bool {
	if r == nil || r.Type != "random" {
		return true
	}
	return r.Percent > rand.IntN(100)+1
}

// ButtonSpec describes one interactive button before wire encoding.
type ButtonSpec struct {
	Label        string `json:"text"`
	ClickedLabel string `json:"clicked_text,omitempty"`
	// Style is the render style; nil means the platform default of 1.
	Style *int `json:"style,omitempty"`

	Link     string `json:"link,omitempty"`
	Input    string `json:"input,omitempty"`
	AutoSend bool   `json:"send,omitempty"`
	Callback string `json:"callback,omitempty"`

	Permission Permission `json:"permission"`
	ClickLimit int        `json:"click_limit,omitempty"`
	// Reply makes the client quote the source message on click.
	Reply                bool   `json:"reply,omitempty"`
	Enter                bool   `json:"enter,omitempty"`
	Anchor               int    `json:"anchor,omitempty"`
	UnsupportTips        string `json:"unsupport_tips,omitempty"`
	AtBotShowChannelList bool   `json:"at_bot_show_channel_list,omitempty"`
	// ActionType overrides the wire action type. A callback button with
	// ActionType 1 always uses server-side callback delivery.
	ActionType *int `json:"type,omitempty"`

	Show *ShowRule `json:"show,omitempty"`
}

// ErrButtonAction reports a button without exactly one action kind.
var ErrButtonAction = errors.New("button must set exactly one of link, input or callback")

// Validate checks that exactly one action kind is set.
func (b ButtonSpec) Validate() error {
	n := 0
	for _, v := range []string{b.Link, b.Input, b.Callback} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return ErrButtonAction
	}
	return nil
}

// LinkButton opens url when clicked.
func LinkButton(label, url string) ButtonSpec {
	return ButtonSpec{Label: label, Link: url}
}

// InputButton pre-fills the composer with text, optionally sending it.
func InputButton(label, text string, autoSend bool) ButtonSpec {
	return ButtonSpec{Label: label, Input: text, AutoSend: autoSend}
}

// CallbackButton resolves to text when clicked.
func CallbackButton(label, text string) ButtonSpec {
	return ButtonSpec{Label: label, Callback: text}
}

// IntPtr is a helper for optional integer fields.
func IntPtr(v int) *int { return &v }
