// Package delivery composes outbound messages, drops degenerate packets,
// transmits them in order and retries once in plain mode on failure.
package delivery

import (
	"context"
	"log/slog"

	"qqbot/pkg/compose"
	"qqbot/pkg/logger"
	"qqbot/pkg/message"
	"qqbot/pkg/telemetry"
)

// Kind is the target kind of an outbound call.
type Kind string

const (
	KindFriend Kind = "friend"
	KindGroup  Kind = "group"
	KindGuild  Kind = "guild"
	KindDirect Kind = "direct"
)

// Guild reports whether the kind is served by the guild composer.
func (k Kind) Guild() bool { return k == KindGuild || k == KindDirect }

// SendResponse is what the transport returned for one packet.
type SendResponse struct {
	ID  string `json:"id,omitempty"`
	Raw any    `json:"raw,omitempty"`
}

// TransmitFunc sends one packet.
type TransmitFunc func(ctx context.Context, packet message.Packet) (SendResponse, error)

// Result accumulates the outcome of one call over both attempts.
type Result struct {
	MessageIDs []string
	Responses  []SendResponse
	Errors     []error
	// Delivered is set when one attempt transmitted all of its packets.
	Delivered bool
}

// Request is one outbound call.
type Request struct {
	Kind     Kind
	Target   compose.Target
	Segments []message.Segment
	Transmit TransmitFunc
}

// Engine delivers messages for one account.
type Engine struct {
	accountID string
	composer  *compose.Composer
	telemetry telemetry.Recorder
	log       *slog.Logger
}

func NewEngine(accountID string, composer *compose.Composer, rec telemetry.Recorder, log *slog.Logger) *Engine {
	if rec == nil {
		rec = telemetry.Nop{}
	}
	return &Engine{
		accountID: accountID,
		composer:  composer,
		telemetry: rec,
		log:       logger.Account(log, "delivery", accountID),
	}
}

func (e *Engine) Composer() *compose.Composer { return e.composer }

// Send composes and transmits req. Errors are reported in the result, never
// returned or panicked.
func (e *Engine) Send(ctx context.Context, req Request) Result {
	var res Result
	defer func() {
		if req.Target.ReplyTo != nil {
			req.Target.ReplyTo.Append(res.MessageIDs...)
		}
	}()

	if message.HasMarkdownAndKeyboard(req.Segments) {
		res.Delivered = e.transmit(ctx, req, []message.Packet{Passthrough(req.Segments)}, &res)
		return res
	}

	packets, err := e.compose(ctx, req)
	if err != nil {
		res.Errors = append(res.Errors, Wrap(err))
		return res
	}
	if res.Delivered = e.transmit(ctx, req, packets, &res); res.Delivered {
		return res
	}

	e.log.Info("delivery failed, retrying in plain mode", "kind", req.Kind)
	packets, err = e.fallback(ctx, req)
	if err != nil {
		res.Errors = append(res.Errors, Wrap(err))
		return res
	}
	res.Delivered = e.transmit(ctx, req, packets, &res)
	return res
}

func (e *Engine) compose(ctx context.Context, req Request) ([]message.Packet, error) {
	if req.Kind.Guild() {
		return e.composer.ComposeGuild(ctx, req.Target, req.Segments)
	}
	packets, ok, err := e.composer.Markdown(ctx, req.Target, req.Segments)
	switch {
	case !ok:
	case err != nil:
		e.log.Debug("markdown compose failed, using plain mode", "error", err)
	case len(packets) > 0:
		return packets, nil
	}
	return e.composer.ComposePlain(ctx, req.Target, req.Segments)
}

func (e *Engine) fallback(ctx context.Context, req Request) ([]message.Packet, error) {
	if req.Kind.Guild() {
		return e.composer.ComposeGuild(ctx, req.Target, req.Segments)
	}
	return e.composer.ComposePlain(ctx, req.Target, req.Segments)
}

// transmit sends packets in order, stopping at the first error. It reports
// whether every packet went through.
func (e *Engine) transmit(ctx context.Context, req Request, packets []message.Packet, res *Result) bool {
	for _, packet := range Filter(packets) {
		e.log.Debug("send packet", "kind", req.Kind, "elements", len(packet))
		resp, err := req.Transmit(ctx, packet)
		if err != nil {
			e.log.Error("send packet failed", "kind", req.Kind, "error", err)
			res.Errors = append(res.Errors, &Error{Category: ErrorTransmissionFailure, Detail: err.Error(), Err: err})
			return false
		}
		res.Responses = append(res.Responses, resp)
		if resp.ID != "" {
			res.MessageIDs = append(res.MessageIDs, resp.ID)
		}
		e.telemetry.RecordSent(e.accountID, string(req.Kind))
	}
	return true
}

// Filter drops packets that carry nothing the platform would display: empty
// packets, packets made only of replies and keyboards, and packets with a
// markdown element that has neither content nor a template.
func Filter(packets []message.Packet) []message.Packet {
	out := make([]message.Packet, 0, len(packets))
	for _, p := range packets {
		if degenerate(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func degenerate(p message.Packet) bool {
	if len(p) == 0 {
		return true
	}
	onlyChrome := true
	for _, el := range p {
		if el.IsBlankMarkdown() {
			return true
		}
		if el.Type != message.ElementReply && el.Type != message.ElementKeyboard {
			onlyChrome = false
		}
	}
	return onlyChrome
}

// Passthrough sends a ready-made markdown and keyboard message unchanged.
func Passthrough(segs []message.Segment) message.Packet {
	var p message.Packet
	for _, seg := range segs {
		switch {
		case seg.IsKeyboard():
			p = append(p, seg.KeyboardElement())
		case seg.Type == message.TypeMarkdown && seg.Markdown != nil:
			p = append(p, seg.Markdown.Element())
		case seg.Type == message.TypeMarkdown:
			p = append(p, message.Element{Type: message.ElementMarkdown, Content: seg.Text})
		case seg.Type == message.TypeReply:
			p = append(p, seg.ReplyElement())
		case seg.Type == message.TypeText:
			p = append(p, message.Element{Type: message.ElementText, Text: seg.Text})
		case seg.Type == message.TypeRaw:
			p = append(p, seg.Elements...)
		}
	}
	return p
}
