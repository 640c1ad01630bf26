package logger

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

const redacted = "[redacted]"

// minSecretLen keeps short values like "1" from blanking unrelated text.
const minSecretLen = 6

// redactor masks configured credential values in messages and string-like
// attributes before they reach next.
type redactor struct {
	next     slog.Handler
	replacer *strings.Replacer
}

func newRedactor(next slog.Handler, secrets []string) slog.Handler {
	r := newReplacer(secrets)
	if r == nil {
		return next
	}
	return &redactor{next: next, replacer: r}
}

// newReplacer orders secrets longest first so a token containing another
// secret is masked whole.
func newReplacer(secrets []string) *strings.Replacer {
	uniq := make([]string, 0, len(secrets))
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if len(s) >= minSecretLen && !slices.Contains(uniq, s) {
			uniq = append(uniq, s)
		}
	}
	if len(uniq) == 0 {
		return nil
	}
	slices.SortFunc(uniq, func(a, b string) int { return cmp.Compare(len(b), len(a)) })

	pairs := make([]string, 0, 2*len(uniq))
	for _, s := range uniq {
		pairs = append(pairs, s, redacted)
	}
	return strings.NewReplacer(pairs...)
}

func (h *redactor) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactor) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, h.replacer.Replace(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(h.attr(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *redactor) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = h.attr(attr)
	}
	return &redactor{next: h.next.WithAttrs(clean), replacer: h.replacer}
}

func (h *redactor) WithGroup(name string) slog.Handler {
	return &redactor{next: h.next.WithGroup(name), replacer: h.replacer}
}

func (h *redactor) attr(attr slog.Attr) slog.Attr {
	v := attr.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.replacer.Replace(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, item := range group {
			clean[i] = h.attr(item)
		}
		return slog.Group(attr.Key, clean...)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return slog.String(attr.Key, h.replacer.Replace(x.Error()))
		case fmt.Stringer:
			return slog.String(attr.Key, h.replacer.Replace(x.String()))
		}
	}
	return slog.Attr{Key: attr.Key, Value: v}
}
