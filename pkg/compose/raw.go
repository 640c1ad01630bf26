package compose

import (
	"context"
	"strings"

	"qqbot/pkg/message"
)

// ComposeRawMarkdown sends text, mentions and images as one markdown content
// packet. Other media become packets of their own and button rows are
// attached to the markdown packets.
func (c *Composer) ComposeRawMarkdown(ctx context.Context, t Target, segs []message.Segment) ([]message.Packet, error) {
	var (
		packets []message.Packet
		queue   []message.Element
		content strings.Builder
		reply   *message.Element
	)

	for _, seg := range segs {
		if seg.IsKeyboard() {
			queue = append(queue, seg.KeyboardElement())
			continue
		}

		switch seg.Type {
		case message.TypeRecord:
			packets = append(packets, message.Packet{mediaElement(seg, c.media.Record(ctx, seg.File))})
		case message.TypeVideo:
			packets = append(packets, message.Packet{mediaElement(seg, seg.File)})
		case message.TypeFace, message.TypeArk, message.TypeEmbed:
			packets = append(packets, message.Packet{opaqueElement(seg)})
		case message.TypeFile:
			return nil, unsupported(seg)
		case message.TypeAt:
			content.WriteString(c.mention(ctx, seg.Target))
		case message.TypeText:
			content.WriteString(c.rawText(ctx, t, seg.Text, &queue))
		case message.TypeImage:
			img, err := c.media.MarkdownImage(ctx, seg.File, seg.Summary)
			if err != nil {
				return nil, err
			}
			content.WriteString(img.Des + img.URL)
		case message.TypeMarkdown:
			if seg.Markdown != nil {
				packets = append(packets, message.Packet{seg.Markdown.Element()})
			} else {
				content.WriteString(seg.Text)
			}
		case message.TypeButton:
			queue = append(queue, c.buttons.BuildRows(ctx, t.source(), seg.Rows)...)
		case message.TypeReply:
			r := seg.ReplyElement()
			reply = &r
		case message.TypeNode:
			for _, node := range seg.Nodes {
				sub, err := c.ComposeRawMarkdown(ctx, t, node)
				if err != nil {
					return nil, err
				}
				packets = append(packets, sub...)
			}
		case message.TypeRaw:
			packets = append(packets, rawPacket(seg))
		case message.TypeCustom:
			content.WriteString(strings.Join(seg.Fragments, ""))
		default:
			content.WriteString(c.rawText(ctx, t, jsonText(seg), &queue))
		}
	}

	if content.Len() > 0 {
		packets = append([]message.Packet{{{Type: message.ElementMarkdown, Content: content.String()}}}, packets...)
	}

	queue = attachButtons(packets, queue)
	for len(queue) > 0 {
		n := min(MaxButtonRows, len(queue))
		packet := message.Packet{{Type: message.ElementMarkdown, Content: Placeholder}}
		packets = append(packets, append(packet, queue[:n]...))
		queue = queue[n:]
	}

	prependReply(packets, reply)
	return packets, nil
}

// rawText adds a link button and an inline QR image for every URL, then
// escapes mentions.
func (c *Composer) rawText(ctx context.Context, t Target, text string, queue *[]message.Element) string {
	for _, url := range c.urls(text) {
		*queue = append(*queue, c.linkRow(ctx, t, url)...)
		qr, err := c.media.QRCode(ctx, url)
		if err != nil {
			c.log.Warn("render qr code failed", "url", url, "error", err)
			continue
		}
		img, err := c.media.MarkdownImage(ctx, qr, qrSummary)
		if err != nil {
			c.log.Warn("host qr code failed", "url", url, "error", err)
			continue
		}
		text = strings.Replace(text, url, img.Des+img.URL, 1)
	}
	return escapeMentions(text)
}
