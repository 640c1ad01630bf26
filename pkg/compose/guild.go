package compose

import (
	"context"
	"strings"

	"qqbot/pkg/identity"
	"qqbot/pkg/message"
)

// ComposeGuild groups segments for guild channels and guild direct messages.
// An image closes the current packet and takes the pending keyboard with it.
// Audio, video and files are not supported.
func (c *Composer) ComposeGuild(ctx context.Context, t Target, segs []message.Segment) ([]message.Packet, error) {
	var (
		packets []message.Packet
		current message.Packet
		rows    []message.Element
		reply   *message.Element
	)
	takeRows := func() []message.Element {
		n := min(MaxButtonRows, len(rows))
		taken := rows[:n]
		rows = rows[n:]
		return taken
	}
	closePacket := func() {
		if len(rows) > 0 {
			current = append(current, keyboardElement(takeRows()))
		}
		if len(current) > 0 {
			packets = append(packets, current)
		}
		current = nil
	}

	for _, seg := range segs {
		var el message.Element
		switch seg.Type {
		case message.TypeAt:
			el = message.Element{Type: message.ElementAt, UserID: strings.TrimPrefix(seg.Target, identity.GuildPrefix)}
		case message.TypeText:
			el = message.Element{Type: message.ElementText, Text: seg.Text}
		case message.TypeFace, message.TypeArk, message.TypeEmbed:
			el = opaqueElement(seg)
		case message.TypeImage:
			current = append(current, mediaElement(seg, seg.File))
			closePacket()
			continue
		case message.TypeRecord, message.TypeVideo, message.TypeFile:
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
			if len(current) > 0 {
				packets = append(packets, current)
				current = nil
			}
			for _, node := range seg.Nodes {
				sub, err := c.ComposeGuild(ctx, t, node)
				if err != nil {
					return nil, err
				}
				packets = append(packets, sub...)
			}
			continue
		case message.TypeRaw:
			if seg.RawList || len(seg.Elements) != 1 {
				packets = append(packets, rawPacket(seg))
				continue
			}
			el = seg.Elements[0]
		case message.TypeCustom:
			el = message.Element{Type: message.ElementText, Text: strings.Join(seg.Fragments, "")}
		default:
			el = message.Element{Type: message.ElementText, Text: jsonText(seg)}
		}

		if el.Type == message.ElementText && el.Text != "" {
			for _, url := range c.urls(el.Text) {
				qr, err := c.media.QRCode(ctx, url)
				if err != nil {
					c.log.Warn("render qr code failed", "url", url, "error", err)
					continue
				}
				current = append(current, message.Element{Type: message.ElementImage, File: qr})
				closePacket()
				el.Text = strings.Replace(el.Text, url, linkQRText, 1)
			}
		}
		current = append(current, el)
	}

	if len(current) > 0 {
		closePacket()
	}
	for len(rows) > 0 {
		packets = append(packets, message.Packet{
			{Type: message.ElementText, Text: " "},
			keyboardElement(takeRows()),
		})
	}

	prependReply(packets, reply)
	return packets, nil
}
