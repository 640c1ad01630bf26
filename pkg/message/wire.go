package message

import "strings"

// ElementType tags one entry of an outbound packet.
type ElementType string

const (
	ElementText     ElementType = "text"
	ElementImage    ElementType = "image"
	ElementAudio    ElementType = "audio"
	ElementVideo    ElementType = "video"
	ElementFace     ElementType = "face"
	ElementArk      ElementType = "ark"
	ElementEmbed    ElementType = "embed"
	ElementAt       ElementType = "at"
	ElementMarkdown ElementType = "markdown"
	ElementButton   ElementType = "button"
	ElementKeyboard ElementType = "keyboard"
	ElementReply    ElementType = "reply"
)

// Packet is one unit accepted by a single transport send call.
type Packet []Element

// Element is one entry of a Packet.
type Element struct {
	Type ElementType `json:"type"`

	Text    string `json:"text,omitempty"`
	File    string `json:"file,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	ID      string `json:"id,omitempty"`
	EventID string `json:"event_id,omitempty"`

	Content          string          `json:"content,omitempty"`
	CustomTemplateID string          `json:"custom_template_id,omitempty"`
	Params           []TemplateParam `json:"params,omitempty"`
	Style            map[string]any  `json:"style,omitempty"`

	// Buttons is one row for button elements.
	Buttons  []Button  `json:"buttons,omitempty"`
	Keyboard *Keyboard `json:"keyboard,omitempty"`

	Data map[string]any `json:"data,omitempty"`
}

// TemplateParam fills one slot of a custom markdown template.
type TemplateParam struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// Keyboard is either a registered keyboard template (ID) or explicit rows.
type Keyboard struct {
	ID   string `json:"id,omitempty"`
	Rows []Row  `json:"rows,omitempty"`
}

// Row is one line of buttons inside a keyboard.
type Row struct {
	Buttons []Button `json:"buttons"`
}

// Button is the wire form of an interactive button.
type Button struct {
	ID         string     `json:"id"`
	RenderData RenderData `json:"render_data"`
	Action     Action     `json:"action"`
}

type RenderData struct {
	Label        string `json:"label"`
	VisitedLabel string `json:"visited_label,omitempty"`
	Style        int    `json:"style"`
}

type Action struct {
	Type                 int              `json:"type"`
	Permission           ActionPermission `json:"permission"`
	Data                 string           `json:"data,omitempty"`
	Enter                bool             `json:"enter,omitempty"`
	Reply                bool             `json:"reply"`
	Anchor               int              `json:"anchor"`
	ClickLimit           int              `json:"click_limit,omitempty"`
	AtBotShowChannelList bool             `json:"at_bot_show_channel_list"`
	UnsupportTips        string           `json:"unsupport_tips"`
}

// ActionPermission restricts who may click a button.
type ActionPermission struct {
	Type           int      `json:"type"`
	SpecifyUserIDs []string `json:"specify_user_ids,omitempty"`
}

// Wire action types.
const (
	ActionLink     = 0
	ActionCallback = 1
	ActionInput    = 2
)

// Wire permission types.
const (
	PermissionSpecified = 0
	PermissionAdmin     = 1
	PermissionEveryone  = 2
)

// IsMedia reports whether the element is a media attachment.
func (e Element) IsMedia() bool {
	switch e.Type {
	case ElementImage, ElementAudio, ElementVideo:
		return true
	default:
		return false
	}
}

// IsBlankMarkdown reports a markdown element with no content and no template.
func (e Element) IsBlankMarkdown() bool {
	return e.Type == ElementMarkdown && strings.TrimSpace(e.Content) == "" && e.CustomTemplateID == ""
}

// ButtonCount is the number of buttons carried by the element.
func (e Element) ButtonCount() int {
	switch e.Type {
	case ElementButton:
		return len(e.Buttons)
	case ElementKeyboard:
		if e.Keyboard == nil {
			return 0
		}
		n := 0
		for _, row := range e.Keyboard.Rows {
			n += len(row.Buttons)
		}
		return n
	default:
		return 0
	}
}

// Clone returns a deep enough copy that appending to either packet does not
// affect the other.
func (p Packet) Clone() Packet {
	if p == nil {
		return nil
	}
	out := make(Packet, len(p))
	copy(out, p)
	return out
}

// MediaCount counts media elements in the packet.
func (p Packet) MediaCount() int {
	n := 0
	for _, el := range p {
		if el.IsMedia() {
			n++
		}
	}
	return n
}

// CloneParams deep-copies template params.
func CloneParams(params []TemplateParam) []TemplateParam {
	if params == nil {
		return nil
	}
	out := make([]TemplateParam, len(params))
	for i, p := range params {
		out[i] = TemplateParam{Key: p.Key, Values: append([]string(nil), p.Values...)}
	}
	return out
}
