// Package compose turns segment sequences into protocol-legal packets. It has
// four composers: raw markdown, templated markdown, plain (friend and group
// chats) and guild.
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"qqbot/pkg/button"
	"qqbot/pkg/callback"
	"qqbot/pkg/identity"
	"qqbot/pkg/logger"
	"qqbot/pkg/media"
	"qqbot/pkg/message"
)

// ErrUnsupported is returned when a segment cannot be expressed in the
// selected mode. Callers fall back to another composer.
var ErrUnsupported = errors.New("unsupported segment")

// MaxButtonRows is the number of button rows one packet may carry.
const MaxButtonRows = 5

// Placeholder is the zero-width value that marks an unused template slot.
const Placeholder = "\u200b"

const (
	linkButtonText = "[链接(请点击按钮查看)]"
	linkQRText     = "[链接(请扫码查看)]"
	qrSummary      = "二维码"
)

// DefaultURLPattern matches http(s) URLs for QR substitution.
var DefaultURLPattern = regexp.MustCompile(`https?://[-\w_]+(\.[-\w_]+)+([-\w.,@?^=%&:/~+#]*[-\w@?^=%&/~+#])?`)

// Media is what the composers need from the media layer.
type Media interface {
	MarkdownImage(ctx context.Context, file, summary string) (media.MarkdownImage, error)
	QRCode(ctx context.Context, text string) (string, error)
	HostURL(ctx context.Context, file string) (string, error)
	Record(ctx context.Context, file string) string
}

// Evaluator expands suffix value expressions.
type Evaluator interface {
	Evaluate(expr string, data map[string]any) (string, error)
}

// SuffixParam is a template param appended after packing.
type SuffixParam struct {
	Key    string
	Values []string
	Show   *message.ShowRule
}

// ButtonSuffix is a row of buttons added to every templated message.
type ButtonSuffix struct {
	// Position is 1-based in the button queue.
	Position int
	Buttons  []message.ButtonSpec
}

// Options are the per-account composition settings.
type Options struct {
	AccountID string
	Binding   TemplateBinding
	// URLPattern selects URLs replaced by QR codes or link buttons. Nil
	// disables the substitution.
	URLPattern     *regexp.Regexp
	SendButton     bool
	ToQQUin        bool
	MediaPerPacket int
	MarkdownSuffix []SuffixParam
	ButtonSuffix   *ButtonSuffix
}

// Target is the destination of one outbound call.
type Target struct {
	// MessageID is the inbound message being answered, if any.
	MessageID string
	UserID    string
	GroupID   string
	// ReplyTo receives delivered ids; callback buttons share it.
	ReplyTo *callback.IDList
	// Context is the "e" object seen by suffix expressions.
	Context map[string]any
}

func (t Target) source() button.Source {
	return button.Source{MessageID: t.MessageID, UserID: t.UserID, GroupID: t.GroupID, ReplyTo: t.ReplyTo}
}

// Composer composes packets for one account.
type Composer struct {
	opts    Options
	buttons *button.Builder
	media   Media
	eval    Evaluator
	aliases identity.AliasResolver
	log     *slog.Logger
}

func New(opts Options, buttons *button.Builder, m Media, eval Evaluator, aliases identity.AliasResolver, log *slog.Logger) *Composer {
	if opts.MediaPerPacket <= 0 {
		opts.MediaPerPacket = 1
	}
	opts.Binding = opts.Binding.normalized()
	return &Composer{
		opts:    opts,
		buttons: buttons,
		media:   m,
		eval:    eval,
		aliases: aliases,
		log:     logger.Account(log, "compose", opts.AccountID),
	}
}

func (c *Composer) Options() Options { return c.opts }

// Markdown picks the markdown composer bound to the account. It reports
// false when the account sends plain messages.
func (c *Composer) Markdown(ctx context.Context, t Target, segs []message.Segment) ([]message.Packet, bool, error) {
	switch {
	case c.opts.Binding.Raw:
		packets, err := c.ComposeRawMarkdown(ctx, t, segs)
		return packets, true, err
	case c.opts.Binding.Enabled():
		packets, err := c.ComposeTemplateMarkdown(ctx, t, segs)
		return packets, true, err
	default:
		return nil, false, nil
	}
}

// urls lists URLs in text that are not already the target of a markdown link.
func (c *Composer) urls(text string) []string {
	if c.opts.URLPattern == nil {
		return nil
	}
	var out []string
	for _, loc := range c.opts.URLPattern.FindAllStringIndex(text, -1) {
		if strings.HasSuffix(text[:loc[0]], "](") {
			continue
		}
		out = append(out, text[loc[0]:loc[1]])
	}
	return out
}

func (c *Composer) linkRow(ctx context.Context, t Target, url string) []message.Element {
	return c.buttons.BuildRows(ctx, t.source(), [][]message.ButtonSpec{{message.LinkButton(url, url)}})
}

func (c *Composer) mention(ctx context.Context, target string) string {
	if target == message.AtAll {
		return "@everyone"
	}
	if c.opts.ToQQUin && c.aliases != nil {
		target = c.aliases.Resolve(ctx, target)
	}
	return "<@" + identity.StripAccount(c.opts.AccountID, target) + ">"
}

func escapeMentions(text string) string {
	return strings.ReplaceAll(text, "@", "@"+Placeholder)
}

func mediaElement(seg message.Segment, file string) message.Element {
	switch seg.Type {
	case message.TypeRecord:
		return message.Element{Type: message.ElementAudio, File: file}
	case message.TypeVideo:
		return message.Element{Type: message.ElementVideo, File: file}
	default:
		return message.Element{Type: message.ElementImage, File: file, Text: seg.Summary}
	}
}

func opaqueElement(seg message.Segment) message.Element {
	return message.Element{Type: message.ElementType(seg.Type), Data: seg.Data}
}

func jsonText(seg message.Segment) string {
	data, err := json.Marshal(seg)
	if err != nil {
		return fmt.Sprint(seg)
	}
	return string(data)
}

func markdownElement(seg message.Segment) message.Element {
	if seg.Markdown != nil {
		return seg.Markdown.Element()
	}
	return message.Element{Type: message.ElementMarkdown, Content: seg.Text}
}

func rawPacket(seg message.Segment) message.Packet {
	return append(message.Packet(nil), seg.Elements...)
}

// attachButtons drains the queue into markdown packets, at most
// MaxButtonRows per packet, and returns the overflow.
func attachButtons(packets []message.Packet, queue []message.Element) []message.Element {
	for i := range packets {
		if len(queue) == 0 {
			break
		}
		if len(packets[i]) == 0 || packets[i][0].Type != message.ElementMarkdown {
			continue
		}
		n := min(MaxButtonRows, len(queue))
		packets[i] = append(packets[i], queue[:n]...)
		queue = queue[n:]
	}
	return queue
}

func prependReply(packets []message.Packet, reply *message.Element) {
	if reply == nil {
		return
	}
	for i := range packets {
		packets[i] = append(message.Packet{*reply}, packets[i]...)
	}
}

func unsupported(seg message.Segment) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, seg.Type)
}
