package message

import (
	"encoding/json"
	"fmt"
)

// Normalize flattens loosely typed caller input into a segment sequence.
// It accepts Segment, []Segment, string, []string, []any, loose objects
// decoded from JSON and raw JSON bytes. Anything it cannot recognise becomes
// a text segment holding its JSON form.
func Normalize(input any) []Segment {
	var out []Segment
	normalizeInto(&out, input, 0)
	return out
}

// NormalizeJSON decodes a JSON document and normalizes the result. Input that
// is not valid JSON is treated as plain text.
func NormalizeJSON(data []byte) []Segment {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return []Segment{Text(string(data))}
	}
	return Normalize(v)
}

func normalizeInto(out *[]Segment, input any, depth int) {
	switch v := input.(type) {
	case nil:
	case Segment:
		*out = append(*out, v)
	case *Segment:
		if v != nil {
			*out = append(*out, *v)
		}
	case []Segment:
		*out = append(*out, v...)
	case string:
		*out = append(*out, Text(v))
	case []string:
		for _, s := range v {
			*out = append(*out, Text(s))
		}
	case []any:
		if depth > 0 {
			*out = append(*out, Text(jsonText(v)))
			return
		}
		for _, item := range v {
			normalizeInto(out, item, depth+1)
		}
	case map[string]any:
		*out = append(*out, fromObject(v))
	case json.RawMessage:
		*out = append(*out, NormalizeJSON(v)...)
	case []byte:
		*out = append(*out, NormalizeJSON(v)...)
	case fmt.Stringer:
		*out = append(*out, Text(v.String()))
	default:
		*out = append(*out, Text(jsonText(v)))
	}
}

// fromObject converts one loose {"type": ...} object.
func fromObject(obj map[string]any) Segment {
	typ, _ := obj["type"].(string)
	switch Type(typ) {
	case TypeText:
		return Text(str(obj, "text"))
	case TypeImage:
		return Image(str(obj, "file"), str(obj, "summary"))
	case TypeRecord:
		return Record(str(obj, "file"))
	case TypeVideo:
		return Video(str(obj, "file"))
	case TypeFile:
		return File(str(obj, "file"), str(obj, "name"))
	case TypeFace, TypeArk, TypeEmbed:
		return Segment{Type: Type(typ), Data: dataOf(obj)}
	case TypeAt:
		return At(firstStr(obj, "qq", "target", "user_id", "id"))
	case TypeReply:
		return Reply(str(obj, "id"))
	case TypeMarkdown:
		if md, ok := obj["markdown"].(map[string]any); ok {
			return MarkdownObject(markdownOf(md))
		}
		if s, ok := obj["data"].(string); ok {
			return MarkdownText(s)
		}
		if md, ok := obj["data"].(map[string]any); ok {
			return MarkdownObject(markdownOf(md))
		}
		return MarkdownText(str(obj, "text"))
	case TypeButton:
		if data, ok := obj["data"].([]any); ok {
			return Buttons(rowsOf(data)...)
		}
		if rows, ok := obj["rows"].([]any); ok {
			return Buttons(rowsOf(rows)...)
		}
	case TypeKeyboard:
		var kb Keyboard
		if remarshal(obj["keyboard"], &kb) == nil || remarshal(obj["data"], &kb) == nil {
			return KeyboardSegment(kb)
		}
	case TypeNode:
		if data, ok := obj["data"].([]any); ok {
			nodes := make([][]Segment, 0, len(data))
			for _, n := range data {
				if m, ok := n.(map[string]any); ok {
					if inner, ok := m["message"]; ok {
						nodes = append(nodes, Normalize(inner))
						continue
					}
				}
				nodes = append(nodes, Normalize(n))
			}
			return Node(nodes...)
		}
	case TypeRaw:
		switch data := obj["data"].(type) {
		case []any:
			var els []Element
			if remarshal(data, &els) == nil {
				seg := Raw(els...)
				seg.RawList = true
				return seg
			}
		case map[string]any:
			var el Element
			if remarshal(data, &el) == nil {
				return Raw(el)
			}
		}
	case TypeCustom:
		switch data := obj["data"].(type) {
		case string:
			return Custom(data)
		case []any:
			frags := make([]string, 0, len(data))
			for _, d := range data {
				if s, ok := d.(string); ok {
					frags = append(frags, s)
				}
			}
			return Custom(frags...)
		}
	}
	return Text(jsonText(obj))
}

func rowsOf(data []any) [][]ButtonSpec {
	// A flat list of button objects is a single row.
	if len(data) > 0 {
		if _, ok := data[0].(map[string]any); ok {
			return [][]ButtonSpec{buttonsOf(data)}
		}
	}
	rows := make([][]ButtonSpec, 0, len(data))
	for _, r := range data {
		switch row := r.(type) {
		case []any:
			rows = append(rows, buttonsOf(row))
		case map[string]any:
			rows = append(rows, buttonsOf([]any{row}))
		}
	}
	return rows
}

func buttonsOf(data []any) []ButtonSpec {
	out := make([]ButtonSpec, 0, len(data))
	for _, d := range data {
		m, ok := d.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, ButtonFromMap(m))
	}
	return out
}

// ButtonFromMap reads a loose button object. The permission field may be
// "admin", a single user id or a list of user ids.
func ButtonFromMap(m map[string]any) ButtonSpec {
	b := ButtonSpec{
		Label:         str(m, "text"),
		ClickedLabel:  str(m, "clicked_text"),
		Link:          str(m, "link"),
		Input:         str(m, "input"),
		Callback:      str(m, "callback"),
		UnsupportTips: str(m, "unsupport_tips"),
	}
	b.AutoSend, _ = m["send"].(bool)
	b.Reply, _ = m["reply"].(bool)
	b.Enter, _ = m["enter"].(bool)
	b.AtBotShowChannelList, _ = m["at_bot_show_channel_list"].(bool)
	if n, ok := num(m["style"]); ok {
		b.Style = IntPtr(n)
	}
	if n, ok := num(m["type"]); ok {
		b.ActionType = IntPtr(n)
	}
	if n, ok := num(m["click_limit"]); ok {
		b.ClickLimit = n
	}
	if n, ok := num(m["anchor"]); ok {
		b.Anchor = n
	}

	switch p := m["permission"].(type) {
	case string:
		if p == "admin" {
			b.Permission = Permission{Kind: AdminOnly}
		} else if p != "" {
			b.Permission = Permission{Kind: AllowList, UserIDs: []string{p}}
		}
	case []any:
		ids := make([]string, 0, len(p))
		for _, id := range p {
			ids = append(ids, fmt.Sprint(id))
		}
		b.Permission = Permission{Kind: AllowList, UserIDs: ids}
	}

	if show, ok := m["show"].(map[string]any); ok {
		rule := &ShowRule{Type: str(show, "type")}
		rule.Percent, _ = num(show["data"])
		b.Show = rule
	}
	return b
}

func markdownOf(m map[string]any) Markdown {
	var md Markdown
	_ = remarshal(m, &md)
	return md
}

func dataOf(obj map[string]any) map[string]any {
	if d, ok := obj["data"].(map[string]any); ok {
		return d
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != "type" {
			out[k] = v
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m, k); s != "" {
			return s
		}
	}
	return ""
}

func num(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func remarshal(in any, out any) error {
	if in == nil {
		return fmt.Errorf("empty value")
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func jsonText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
