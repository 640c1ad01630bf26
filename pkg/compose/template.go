package compose

import (
	"context"
	"regexp"
	"strings"

	"qqbot/pkg/message"
)

var markdownLink = regexp.MustCompile(`!?\[[^\]]*\]\([^)]*\)`)

// ComposeTemplateMarkdown packs text and images into the account's custom
// template. Units fill slots in order and every Capacity units are sealed
// into one markdown element; nothing is reordered. A file segment yields
// ErrUnsupported.
func (c *Composer) ComposeTemplateMarkdown(ctx context.Context, t Target, segs []message.Segment) ([]message.Packet, error) {
	var (
		packets []message.Packet
		queue   []message.Element
		units   []string
		content string
		reply   *message.Element
	)
	capacity := c.opts.Binding.Capacity()

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
			content += c.mention(ctx, seg.Target)
		case message.TypeText:
			content += c.templateText(ctx, t, seg.Text, &queue)
		case message.TypeNode:
			for _, node := range seg.Nodes {
				sub, err := c.ComposeTemplateMarkdown(ctx, t, node)
				if err != nil {
					return nil, err
				}
				packets = append(packets, sub...)
			}
		case message.TypeImage:
			img, err := c.media.MarkdownImage(ctx, seg.File, seg.Summary)
			if err != nil {
				return nil, err
			}
			// Every (capacity-1)th unit the descriptor gets a unit of its own.
			limit := 0
			if capacity > 1 {
				limit = len(units) % (capacity - 1)
			}
			if len(units) > 0 && limit == 0 {
				if content != "" {
					units = append(units, content)
				}
				units = append(units, img.Des)
			} else {
				units = append(units, content+img.Des)
			}
			content = img.URL
		case message.TypeMarkdown:
			if seg.Markdown != nil {
				packets = append(packets, message.Packet{seg.Markdown.Element()})
			} else {
				content += seg.Text
			}
		case message.TypeButton:
			queue = append(queue, c.buttons.BuildRows(ctx, t.source(), seg.Rows)...)
		case message.TypeReply:
			r := seg.ReplyElement()
			reply = &r
		case message.TypeRaw:
			packets = append(packets, rawPacket(seg))
		case message.TypeCustom:
			units = append(units, seg.Fragments...)
		default:
			content += c.templateText(ctx, t, jsonText(seg), &queue)
		}
	}

	if content != "" {
		units = append(units, content)
	}
	for _, chunk := range chunkUnits(units, capacity) {
		for _, el := range c.seal(t, chunk) {
			packets = append(packets, message.Packet{el})
		}
	}

	if len(units) > 0 && len(queue) < MaxButtonRows && c.opts.ButtonSuffix != nil {
		queue = c.insertButtonSuffix(ctx, t, queue)
	}

	queue = attachButtons(packets, queue)
	for len(queue) > 0 {
		n := min(MaxButtonRows, len(queue))
		packet := message.Packet(c.seal(t, []string{" "}))
		packets = append(packets, append(packet, queue[:n]...))
		queue = queue[n:]
	}

	prependReply(packets, reply)
	return packets, nil
}

// templateText replaces URLs by a hint plus a link button, then escapes
// newlines and mentions for template params.
func (c *Composer) templateText(ctx context.Context, t Target, text string, queue *[]message.Element) string {
	for _, url := range c.urls(text) {
		*queue = append(*queue, c.linkRow(ctx, t, url)...)
		text = strings.Replace(text, url, linkButtonText, 1)
	}
	text = strings.ReplaceAll(text, "\n", "\r")
	return escapeMentions(text)
}

// chunkUnits groups units into template messages of at most capacity units
// each. No units means no template message at all.
func chunkUnits(units []string, capacity int) [][]string {
	if len(units) == 0 {
		return nil
	}
	if capacity <= 0 || len(units) <= capacity {
		return [][]string{units}
	}
	var out [][]string
	for len(units) > capacity {
		out = append(out, units[:capacity])
		units = units[capacity:]
	}
	return append(out, units)
}

// seal fills template params from units and returns one markdown element
// per Capacity units. Link splitting can push a chunk past one element; the
// account's markdown suffix goes on the last element of the chunk.
func (c *Composer) seal(t Target, units []string) []message.Element {
	binding := c.opts.Binding
	capacity := binding.Capacity()

	var out []message.Element
	params := binding.fresh()
	index := 0
	for _, unit := range splitLinks(units) {
		if index == capacity {
			out = append(out, binding.element(params))
			params = binding.fresh()
			index = 0
		}
		if binding.dynamic() {
			params[index].Values = []string{unit}
		} else {
			params = append(params, message.TemplateParam{Key: binding.Keys[index], Values: []string{unit}})
		}
		index++
	}

	params = c.appendSuffix(t, params)
	if len(params) > 0 {
		out = append(out, binding.element(params))
	}
	return out
}

func (c *Composer) appendSuffix(t Target, params []message.TemplateParam) []message.TemplateParam {
	suffix := c.opts.MarkdownSuffix
	if len(suffix) == 0 {
		return params
	}
	for _, p := range params {
		for _, s := range suffix {
			if s.Key == p.Key && len(p.Values) > 0 && p.Values[0] != Placeholder {
				return params
			}
		}
	}

	data := map[string]any{"e": t.Context}
	for _, s := range suffix {
		if !s.Show.Keep() || len(s.Values) == 0 {
			continue
		}
		value := s.Values[0]
		if c.eval != nil {
			out, err := c.eval.Evaluate(value, data)
			if err != nil {
				c.log.Warn("markdown suffix expression failed", "key", s.Key, "error", err)
			} else {
				value = out
			}
		}
		params = append(params, message.TemplateParam{Key: s.Key, Values: []string{value}})
	}
	return params
}

func (c *Composer) insertButtonSuffix(ctx context.Context, t Target, queue []message.Element) []message.Element {
	suffix := c.opts.ButtonSuffix
	specs := make([]message.ButtonSpec, 0, len(suffix.Buttons))
	for _, b := range suffix.Buttons {
		if b.Show.Keep() {
			specs = append(specs, b)
		}
	}
	rows := c.buttons.BuildRows(ctx, t.source(), [][]message.ButtonSpec{specs})
	if len(rows) == 0 {
		return queue
	}

	pos := min(max(suffix.Position-1, 0), len(queue))
	out := make([]message.Element, 0, len(queue)+len(rows))
	out = append(out, queue[:pos]...)
	out = append(out, rows...)
	return append(out, queue[pos:]...)
}

// splitLinks cuts units at markdown link boundaries so the link text and the
// link target land in separate slots. Empty pieces are dropped.
func splitLinks(units []string) []string {
	out := make([]string, 0, len(units))
	for _, unit := range units {
		if unit == "" {
			continue
		}
		last := 0
		for _, loc := range markdownLink.FindAllStringIndex(unit, -1) {
			if loc[0] > last {
				out = append(out, unit[last:loc[0]])
			}
			link := unit[loc[0]:loc[1]]
			cut := strings.Index(link, "](") + 1
			out = append(out, link[:cut], link[cut:])
			last = loc[1]
		}
		if last < len(unit) {
			out = append(out, unit[last:])
		}
	}
	return out
}
