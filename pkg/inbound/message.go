package inbound

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"qqbot/pkg/delivery"
	"qqbot/pkg/identity"
	"qqbot/pkg/message"
)

// ReplyTarget addresses the chat an event came from, in platform ids.
type ReplyTarget struct {
	Kind      delivery.Kind
	UserID    string
	GroupID   string
	GuildID   string
	ChannelID string
	// MessageID makes the reply passive.
	MessageID string
}

// Replier sends segments back to the chat an event came from.
type Replier interface {
	Reply(ctx context.Context, target ReplyTarget, segs []message.Segment) delivery.Result
}

// Message is the canonical inbound message.
type Message struct {
	PostType    string            `json:"post_type"`
	MessageType string            `json:"message_type"`
	SubType     string            `json:"sub_type"`
	MessageID   string            `json:"message_id"`
	AccountID   string            `json:"self_id"`
	UserID      string            `json:"user_id"`
	GroupID     string            `json:"group_id,omitempty"`
	Sender      identity.Record   `json:"sender"`
	Segments    []message.Segment `json:"message"`
	RawMessage  string            `json:"raw_message"`
	Raw         json.RawMessage   `json:"raw,omitempty"`

	Target  ReplyTarget `json:"-"`
	replier Replier
}

// EventName is the bus name of the message.
func (m *Message) EventName() string {
	return m.PostType + "." + m.MessageType + "." + m.SubType
}

// Reply normalizes content and sends it to the originating chat.
func (m *Message) Reply(ctx context.Context, content any) delivery.Result {
	if m.replier == nil {
		return delivery.Result{Errors: []error{delivery.NewError(delivery.ErrorTransmissionFailure, "no replier bound")}}
	}
	return m.replier.Reply(ctx, m.Target, message.Normalize(content))
}

// Notice is a canonical notice event.
type Notice struct {
	PostType   string          `json:"post_type"`
	NoticeType string          `json:"notice_type"`
	SubType    string          `json:"sub_type"`
	NoticeID   string          `json:"notice_id,omitempty"`
	AccountID  string          `json:"self_id"`
	GroupID    string          `json:"group_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

func (n *Notice) EventName() string {
	return n.PostType + "." + n.NoticeType + "." + n.SubType
}

// ForumEvent is a forum post or reply change.
type ForumEvent struct {
	PostType  string          `json:"post_type"`
	EventType string          `json:"event_type"`
	AccountID string          `json:"self_id"`
	GuildID   string          `json:"guild_id,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
	ThreadID  string          `json:"thread_id,omitempty"`
	PostID    string          `json:"post_id,omitempty"`
	ReplyID   string          `json:"reply_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

var (
	mentionPattern = regexp.MustCompile(`<@!?(\w+)>`)
	emojiPattern   = regexp.MustCompile(`<emoji:(\d+)>`)
	contentToken   = regexp.MustCompile(`<@!?\w+>|<emoji:\d+>`)
)

// ParseContent splits message content and attachments into segments.
// Mentions keep the platform id; callers qualify them.
func ParseContent(ev MessageEvent) []message.Segment {
	var segs []message.Segment
	if ev.MessageReference != nil && ev.MessageReference.MessageID != "" {
		segs = append(segs, message.Reply(ev.MessageReference.MessageID))
	}

	content := ev.Content
	last := 0
	for _, loc := range contentToken.FindAllStringIndex(content, -1) {
		if loc[0] > last {
			segs = append(segs, message.Text(content[last:loc[0]]))
		}
		token := content[loc[0]:loc[1]]
		if m := mentionPattern.FindStringSubmatch(token); m != nil {
			segs = append(segs, message.At(m[1]))
		} else if m := emojiPattern.FindStringSubmatch(token); m != nil {
			segs = append(segs, message.Face(map[string]any{"id": m[1]}))
		}
		last = loc[1]
	}
	if last < len(content) {
		segs = append(segs, message.Text(content[last:]))
	}

	for _, a := range ev.Attachments {
		url := a.FileURL()
		switch {
		case strings.HasPrefix(a.ContentType, "image"):
			segs = append(segs, message.Image(url, ""))
		case strings.HasPrefix(a.ContentType, "voice"), strings.HasPrefix(a.ContentType, "audio"):
			segs = append(segs, message.Record(url))
		case strings.HasPrefix(a.ContentType, "video"):
			segs = append(segs, message.Video(url))
		default:
			segs = append(segs, message.File(url, a.Filename))
		}
	}
	return segs
}

// RawText renders segments as a one-line log form.
func RawText(segs []message.Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		switch seg.Type {
		case message.TypeText:
			b.WriteString(seg.Text)
		case message.TypeAt:
			b.WriteString("[提及：" + seg.Target + "]")
		case message.TypeReply:
			b.WriteString("[回复：" + seg.ID + "]")
		case message.TypeImage:
			b.WriteString("[图片：" + seg.File + "]")
		case message.TypeRecord:
			b.WriteString("[语音：" + seg.File + "]")
		case message.TypeVideo:
			b.WriteString("[视频：" + seg.File + "]")
		case message.TypeFile:
			b.WriteString("[文件：" + seg.File + "]")
		case message.TypeFace:
			if id, ok := seg.Data["id"].(string); ok {
				b.WriteString("[表情：" + id + "]")
			}
		}
	}
	return strings.TrimSpace(b.String())
}
