package compose

import (
	"strings"

	"qqbot/pkg/message"
)

// DefaultTemplateKeys are the slot keys of the stock markdown template.
const DefaultTemplateKeys = "abcdefghij"

// TemplateBinding selects the markdown mode of an account. Raw sends markdown
// content directly. Otherwise units fill either the fixed Keys of TemplateID
// or, when Params is set, the values of a dynamic parameter list.
type TemplateBinding struct {
	Raw        bool
	TemplateID string
	Keys       []string
	Params     []message.TemplateParam
}

// RawBinding is the sentinel binding for raw markdown.
func RawBinding() TemplateBinding { return TemplateBinding{Raw: true} }

// KeyBinding binds templateID with the given keys, or the default keys when
// keys is empty.
func KeyBinding(templateID string, keys []string) TemplateBinding {
	if len(keys) == 0 {
		keys = strings.Split(DefaultTemplateKeys, "")
	}
	return TemplateBinding{TemplateID: templateID, Keys: keys}
}

// ParamBinding binds templateID with a dynamic parameter list.
func ParamBinding(templateID string, params []message.TemplateParam) TemplateBinding {
	return TemplateBinding{TemplateID: templateID, Params: message.CloneParams(params)}
}

// Enabled reports whether the account sends markdown at all.
func (b TemplateBinding) Enabled() bool {
	return b.Raw || b.TemplateID != "" || len(b.Params) > 0
}

func (b TemplateBinding) normalized() TemplateBinding {
	if !b.Raw && !b.dynamic() && len(b.Keys) == 0 && b.TemplateID != "" {
		return KeyBinding(b.TemplateID, nil)
	}
	return b
}

func (b TemplateBinding) dynamic() bool { return len(b.Params) > 0 }

// Capacity is the number of units one template message holds.
func (b TemplateBinding) Capacity() int {
	if b.dynamic() {
		return len(b.Params)
	}
	return len(b.Keys)
}

func (b TemplateBinding) fresh() []message.TemplateParam {
	if b.dynamic() {
		return message.CloneParams(b.Params)
	}
	return make([]message.TemplateParam, 0, len(b.Keys))
}

func (b TemplateBinding) element(params []message.TemplateParam) message.Element {
	return message.Element{
		Type:             message.ElementMarkdown,
		CustomTemplateID: b.TemplateID,
		Params:           params,
	}
}
