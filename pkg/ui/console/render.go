package console

import (
	"fmt"
	"strings"

	"qqbot/pkg/message"
)

const maxPreview = 60

// describeElement renders one element as a short tag and summary.
func describeElement(el message.Element) (string, string) {
	switch el.Type {
	case message.ElementText:
		return "text", el.Text
	case message.ElementImage, message.ElementAudio, message.ElementVideo:
		return string(el.Type), clip(el.File)
	case message.ElementAt:
		return "at", el.UserID
	case message.ElementReply:
		return "reply", firstNonEmpty(el.ID, el.EventID)
	case message.ElementMarkdown:
		if el.CustomTemplateID != "" {
			keys := make([]string, 0, len(el.Params))
			for _, p := range el.Params {
				keys = append(keys, fmt.Sprintf("%s=%q", p.Key, strings.Join(p.Values, "")))
			}
			return "markdown", "template " + el.CustomTemplateID + " " + strings.Join(keys, " ")
		}
		return "markdown", el.Content
	case message.ElementButton:
		return "buttons", labels(el.Buttons)
	case message.ElementKeyboard:
		if el.Keyboard == nil {
			return "keyboard", ""
		}
		if el.Keyboard.ID != "" {
			return "keyboard", "template " + el.Keyboard.ID
		}
		rows := make([]string, 0, len(el.Keyboard.Rows))
		for _, row := range el.Keyboard.Rows {
			rows = append(rows, labels(row.Buttons))
		}
		return "keyboard", strings.Join(rows, " / ")
	default:
		return string(el.Type), ""
	}
}

func labels(buttons []message.Button) string {
	out := make([]string, 0, len(buttons))
	for _, b := range buttons {
		out = append(out, "["+b.RenderData.Label+"]")
	}
	return strings.Join(out, " ")
}

func clip(s string) string {
	if len(s) <= maxPreview {
		return s
	}
	return s[:maxPreview] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
