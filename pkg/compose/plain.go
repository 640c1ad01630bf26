package compose

import (
	"context"
	"strings"

	"qqbot/pkg/message"
)

// ComposePlain groups segments into packets for friend and group chats. A
// packet holds at most MediaPerPacket media items and is closed as soon as it
// reaches that count. Button rows go into trailing keyboard packets.
func (c *Composer) ComposePlain(ctx context.Context, t Target, segs []message.Segment) ([]message.Packet, error) {
	var (
		packets []message.Packet
		current message.Packet
		rows    []message.Element
		reply   *message.Element
	)
	limit := c.opts.MediaPerPacket
	flush := func() {
		if len(current) > 0 {
			packets = append(packets, current)
			current = nil
		}
	}

	for _, seg := range segs {
		var el message.Element
		switch seg.Type {
		case message.TypeAt:
			continue
		case message.TypeText:
			el = message.Element{Type: message.ElementText, Text: seg.Text}
		case message.TypeFace, message.TypeArk, message.TypeEmbed:
			el = opaqueElement(seg)
		case message.TypeRecord:
			el = mediaElement(seg, c.media.Record(ctx, seg.File))
		case message.TypeImage, message.TypeVideo:
			el = mediaElement(seg, seg.File)
		case message.TypeFile:
			return nil, unsupported(seg)
		case message.TypeReply:
			r := seg.ReplyElement()
			reply = &r
			continue
		case message.TypeMarkdown:
			el = markdownElement(seg)
		case message.TypeKeyboard:
			el = seg.KeyboardElement()
		case message.TypeButton:
			if c.opts.SendButton {
				rows = append(rows, c.buttons.BuildRows(ctx, t.source(), seg.Rows)...)
			}
			continue
		case message.TypeNode:
			flush()
			for _, node := range seg.Nodes {
				sub, err := c.ComposePlain(ctx, t, node)
				if err != nil {
					return nil, err
				}
				packets = append(packets, sub...)
			}
			continue
		case message.TypeRaw:
			if seg.RawList || len(seg.Elements) != 1 {
				flush()
				packets = append(packets, rawPacket(seg))
				continue
			}
			el = seg.Elements[0]
		case message.TypeCustom:
			el = message.Element{Type: message.ElementText, Text: strings.Join(seg.Fragments, "")}
		default:
			el = message.Element{Type: message.ElementText, Text: jsonText(seg)}
		}

		if el.IsMedia() && current.MediaCount() >= limit {
			flush()
		}

		if el.Type == message.ElementText && el.Text != "" {
			for _, url := range c.urls(el.Text) {
				file, err := c.hostedQR(ctx, url)
				if err != nil {
					c.log.Warn("render qr code failed", "url", url, "error", err)
					continue
				}
				if current.MediaCount() >= limit {
					flush()
				}
				current = append(current, message.Element{Type: message.ElementImage, File: file})
				el.Text = strings.Replace(el.Text, url, linkQRText, 1)
			}
		}

		current = append(current, el)
		if el.IsMedia() && current.MediaCount() >= limit {
			flush()
		}
	}
	flush()

	for len(rows) > 0 {
		n := min(MaxButtonRows, len(rows))
		packets = append(packets, message.Packet{keyboardElement(rows[:n])})
		rows = rows[n:]
	}

	prependReply(packets, reply)
	return packets, nil
}

func (c *Composer) hostedQR(ctx context.Context, url string) (string, error) {
	qr, err := c.media.QRCode(ctx, url)
	if err != nil {
		return "", err
	}
	return c.media.HostURL(ctx, qr)
}

// keyboardElement wraps button row elements into one keyboard.
func keyboardElement(rows []message.Element) message.Element {
	kb := message.Keyboard{Rows: make([]message.Row, 0, len(rows))}
	for _, r := range rows {
		kb.Rows = append(kb.Rows, message.Row{Buttons: r.Buttons})
	}
	return message.Element{Type: message.ElementKeyboard, Keyboard: &kb}
}
