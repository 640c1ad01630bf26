package inbound

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// SummaryLimit bounds the forum content summary in runes.
const SummaryLimit = 100

// Forum handles a forum post or reply change. name is the canonical event
// name, for example forum.post.create.
func (n *Normalizer) Forum(ctx context.Context, name string, raw []byte) (*ForumEvent, error) {
	d := gjson.ParseBytes(raw)
	ev := &ForumEvent{
		PostType:  "forum",
		EventType: name,
		AccountID: n.opts.AccountID,
		GuildID:   d.Get("guild_id").String(),
		ChannelID: d.Get("channel_id").String(),
		UserID:    firstNonEmpty(d.Get("author_id").String(), d.Get("operator.id").String(), d.Get("author.id").String()),
		Raw:       json.RawMessage(raw),
	}

	info := d.Get("post_info")
	if strings.HasPrefix(name, "forum.reply") {
		info = d.Get("reply_info")
	}
	if !info.Exists() {
		info = d
	}
	ev.ThreadID = info.Get("thread_id").String()
	ev.PostID = info.Get("post_id").String()
	ev.ReplyID = info.Get("reply_id").String()
	ev.Content = info.Get("content").String()
	ev.Timestamp = firstNonEmpty(info.Get("date_time").String(), d.Get("timestamp").String())

	attrs := []any{"event", name, "channel_id", ev.ChannelID, "thread_id", ev.ThreadID}
	if ev.ReplyID != "" {
		attrs = append(attrs, "reply_id", ev.ReplyID)
	}
	if name == "forum.post.create" {
		if summary, truncated := ContentSummary(ev.Content); summary != "" {
			if truncated {
				summary += "..."
			}
			attrs = append(attrs, "summary", summary)
		}
	}
	n.log.Info("forum event", attrs...)

	return ev, n.emit(ctx, name, ev)
}

// ContentSummary extracts the plain text of rich forum content. Content that
// is not JSON is used as is unless it looks like markup. The result is cut
// to SummaryLimit runes; truncated reports whether the limit was reached.
func ContentSummary(content string) (summary string, truncated bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", false
	}

	if gjson.Valid(content) {
		var b strings.Builder
		gjson.Get(content, "paragraphs").ForEach(func(_, p gjson.Result) bool {
			p.Get("elems").ForEach(func(_, e gjson.Result) bool {
				b.WriteString(e.Get("text.text").String())
				return true
			})
			return true
		})
		summary = strings.TrimSpace(b.String())
	} else if !strings.ContainsAny(content[:1], "{[<") {
		summary = content
	}

	if utf8.RuneCountInString(summary) >= SummaryLimit {
		return string([]rune(summary)[:SummaryLimit]), true
	}
	return summary, false
}
