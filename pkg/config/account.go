package config

import (
	"fmt"
	"regexp"
	"strings"

	"qqbot/pkg/button"
	"qqbot/pkg/compose"
	"qqbot/pkg/identity"
	"qqbot/pkg/inbound"
	"qqbot/pkg/message"
)

// AccountSettings are the options of one account resolved from the global
// switches and the per-account maps.
type AccountSettings struct {
	Account         Account
	Compose         compose.Options
	Button          button.Settings
	Inbound         inbound.Options
	HideGuildRecall bool
	Finder          identity.StaticFinder
}

// Resolve builds the settings of acc.
func (c *Config) Resolve(acc Account) (AccountSettings, error) {
	binding, err := c.Binding(acc.ID)
	if err != nil {
		return AccountSettings{}, err
	}

	opts := compose.Options{
		AccountID:      acc.ID,
		Binding:        binding,
		SendButton:     c.SendButton,
		ToQQUin:        c.ToQQUin,
		MediaPerPacket: c.MediaPerPacket,
	}
	if c.ToQRCode {
		opts.URLPattern = compose.DefaultURLPattern
		if c.QRCodePattern != "" {
			re, err := regexp.Compile(c.QRCodePattern)
			if err != nil {
				return AccountSettings{}, fmt.Errorf("qrcode_pattern: %w", err)
			}
			opts.URLPattern = re
		}
	}
	for _, p := range c.MarkdownSuffix[acc.ID] {
		sp := compose.SuffixParam{Key: p.Key, Values: append([]string(nil), p.Values...)}
		if p.Show != nil {
			sp.Show = &message.ShowRule{Type: p.Show.Type, Percent: p.Show.Data}
		}
		opts.MarkdownSuffix = append(opts.MarkdownSuffix, sp)
	}
	if suffix, ok := c.ButtonSuffix[acc.ID]; ok && len(suffix.Values) > 0 {
		bs := &compose.ButtonSuffix{Position: suffix.Position}
		for _, v := range suffix.Values {
			bs.Buttons = append(bs.Buttons, message.ButtonFromMap(v))
		}
		opts.ButtonSuffix = bs
	}

	in := inbound.Options{
		AccountID: acc.ID,
		ToQQUin:   c.ToQQUin,
		FilterLog: append([]string(nil), c.FilterLog[acc.ID]...),
	}
	if strings.TrimSpace(c.Welcome) != "" {
		in.Welcome = []message.Segment{message.Text(c.Welcome)}
	}

	return AccountSettings{
		Account: acc,
		Compose: opts,
		Button: button.Settings{
			AccountID:  acc.ID,
			ToCallback: c.ToCallback,
			ToQQUin:    c.ToQQUin,
		},
		Inbound:         in,
		HideGuildRecall: c.HideGuildRecall,
		Finder:          identity.StaticFinder(c.UserAliases[acc.ID]),
	}, nil
}

// Binding returns the markdown mode of accountID. A custom_markdown entry
// wins over the plain markdown map; its template id falls back to the
// markdown map and its keys to markdown_keys.
func (c *Config) Binding(accountID string) (compose.TemplateBinding, error) {
	custom, hasCustom := c.CustomMarkdown[accountID]
	templateID := c.Markdown[accountID]
	if hasCustom && custom.TemplateID != "" {
		templateID = custom.TemplateID
	}

	switch {
	case templateID == "":
		return compose.TemplateBinding{}, nil
	case templateID == MarkdownRaw:
		return compose.RawBinding(), nil
	case hasCustom && len(custom.Params) > 0:
		params := make([]message.TemplateParam, 0, len(custom.Params))
		for _, p := range custom.Params {
			if p.Key == "" {
				return compose.TemplateBinding{}, fmt.Errorf("custom_markdown.%s: param without key", accountID)
			}
			params = append(params, message.TemplateParam{Key: p.Key, Values: append([]string(nil), p.Values...)})
		}
		return compose.ParamBinding(templateID, params), nil
	}

	keys := custom.Keys
	if len(keys) == 0 && c.MarkdownKeys != "" {
		keys = strings.Split(c.MarkdownKeys, "")
	}
	return compose.KeyBinding(templateID, keys), nil
}
