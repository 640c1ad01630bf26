// Package message defines the platform-agnostic segment model and the wire
// packets accepted by the QQ bot OpenAPI.
package message

import "strings"

// Type tags one Segment variant.
type Type string

const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeRecord   Type = "record"
	TypeVideo    Type = "video"
	TypeFile     Type = "file"
	TypeFace     Type = "face"
	TypeArk      Type = "ark"
	TypeEmbed    Type = "embed"
	TypeMarkdown Type = "markdown"
	TypeButton   Type = "button"
	TypeKeyboard Type = "keyboard"
	TypeReply    Type = "reply"
	TypeNode     Type = "node"
	TypeRaw      Type = "raw"
	TypeCustom   Type = "custom"
	TypeAt       Type = "at"
)

// AtAll is the At target that mentions everyone.
const AtAll = "all"

// EventReplyPrefix marks reply targets that reference an inbound event
// instead of a message.
const EventReplyPrefix = "event_"

// Segment is one typed unit of message content. Only the fields relevant to
// Type are populated; use the constructors below to build valid values.
type Segment struct {
	Type Type `json:"type"`

	// Text carries text content and the string form of markdown.
	Text string `json:"text,omitempty"`
	// File references media: an http(s) URL, a base64:// payload or a local path.
	File    string `json:"file,omitempty"`
	Summary string `json:"summary,omitempty"`
	Name    string `json:"name,omitempty"`
	// Target is the mentioned user id or AtAll.
	Target string `json:"target,omitempty"`
	// ID is the quoted message id for replies.
	ID string `json:"id,omitempty"`

	Data      map[string]any `json:"data,omitempty"`
	Markdown  *Markdown      `json:"markdown,omitempty"`
	Rows      [][]ButtonSpec `json:"rows,omitempty"`
	Nodes     [][]Segment    `json:"nodes,omitempty"`
	Elements  []Element      `json:"elements,omitempty"`
	RawList   bool           `json:"raw_list,omitempty"`
	Fragments []string       `json:"fragments,omitempty"`
	Keyboard  *Keyboard      `json:"keyboard,omitempty"`
}

// Markdown is a preformatted markdown object passed through to the platform.
type Markdown struct {
	Content             string          `json:"content,omitempty"`
	CustomTemplateID    string          `json:"custom_template_id,omitempty"`
	Params              []TemplateParam `json:"params,omitempty"`
	Style               map[string]any  `json:"style,omitempty"`
	HideAvatarAndCenter bool            `json:"hide_avatar_and_center,omitempty"`
}

// Element converts the markdown object into its wire element.
func (m Markdown) Element() Element {
	style := m.Style
	if m.HideAvatarAndCenter {
		style = make(map[string]any, len(m.Style)+1)
		style["layout"] = "hide_avatar_and_center"
		for k, v := range m.Style {
			style[k] = v
		}
	}

	return Element{
		Type:             ElementMarkdown,
		Content:          m.Content,
		CustomTemplateID: m.CustomTemplateID,
		Params:           CloneParams(m.Params),
		Style:            style,
	}
}

func Text(text string) Segment { return Segment{Type: TypeText, Text: text} }

func Image(file, summary string) Segment {
	return Segment{Type: TypeImage, File: file, Summary: summary}
}

func Record(file string) Segment { return Segment{Type: TypeRecord, File: file} }

func Video(file string) Segment { return Segment{Type: TypeVideo, File: file} }

func File(file, name string) Segment { return Segment{Type: TypeFile, File: file, Name: name} }

func Face(data map[string]any) Segment { return Segment{Type: TypeFace, Data: data} }

func Ark(data map[string]any) Segment { return Segment{Type: TypeArk, Data: data} }

func Embed(data map[string]any) Segment { return Segment{Type: TypeEmbed, Data: data} }

// MarkdownText is markdown given as a plain string; it is merged into the
// surrounding markdown content.
func MarkdownText(text string) Segment { return Segment{Type: TypeMarkdown, Text: text} }

// MarkdownObject is a complete markdown element sent as its own packet.
func MarkdownObject(md Markdown) Segment { return Segment{Type: TypeMarkdown, Markdown: &md} }

// Buttons builds a button segment; each argument is one row.
func Buttons(rows ...[]ButtonSpec) Segment { return Segment{Type: TypeButton, Rows: rows} }

func KeyboardSegment(kb Keyboard) Segment { return Segment{Type: TypeKeyboard, Keyboard: &kb} }

func Reply(id string) Segment { return Segment{Type: TypeReply, ID: id} }

// Node bundles forwarded messages; each node is composed independently.
func Node(nodes ...[]Segment) Segment { return Segment{Type: TypeNode, Nodes: nodes} }

// Raw passes wire elements through. A single raw element is merged into the
// current packet, a list is sent as its own packet.
func Raw(elements ...Element) Segment {
	return Segment{Type: TypeRaw, Elements: elements, RawList: len(elements) != 1}
}

// Custom appends preformatted template fragments, one slot each.
func Custom(fragments ...string) Segment { return Segment{Type: TypeCustom, Fragments: fragments} }

func At(target string) Segment { return Segment{Type: TypeAt, Target: target} }

// IsKeyboard reports whether the segment carries a ready-made keyboard.
func (s Segment) IsKeyboard() bool {
	switch s.Type {
	case TypeKeyboard:
		return true
	case TypeRaw:
		return !s.RawList && len(s.Elements) == 1 && s.Elements[0].Type == ElementKeyboard
	default:
		return false
	}
}

// KeyboardElement returns the wire keyboard carried by a keyboard segment.
func (s Segment) KeyboardElement() Element {
	if s.Type == TypeRaw && len(s.Elements) == 1 {
		return s.Elements[0]
	}
	kb := Keyboard{}
	if s.Keyboard != nil {
		kb = *s.Keyboard
	}
	return Element{Type: ElementKeyboard, Keyboard: &kb}
}

// ReplyElement converts a reply segment into its wire element. Targets with
// the event_ prefix quote an event rather than a message.
func (s Segment) ReplyElement() Element {
	if strings.HasPrefix(s.ID, EventReplyPrefix) {
		return Element{Type: ElementReply, EventID: strings.TrimPrefix(s.ID, EventReplyPrefix)}
	}
	return Element{Type: ElementReply, ID: s.ID}
}

// IsMedia reports whether the segment is sent as a media attachment.
func (s Segment) IsMedia() bool {
	switch s.Type {
	case TypeImage, TypeRecord, TypeVideo, TypeFile:
		return true
	default:
		return false
	}
}

// HasMarkdownAndKeyboard reports whether the message already pairs a
// markdown segment with a ready-made keyboard.
func HasMarkdownAndKeyboard(segments []Segment) bool {
	var markdown, keyboard bool
	for _, seg := range segments {
		if seg.Type == TypeMarkdown {
			markdown = true
		}
		if seg.IsKeyboard() {
			keyboard = true
		}
	}
	return markdown && keyboard
}
