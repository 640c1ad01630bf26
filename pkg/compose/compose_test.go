package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"qqbot/pkg/button"
	"qqbot/pkg/callback"
	"qqbot/pkg/media"
	"qqbot/pkg/message"
)

type fakeMedia struct{}

func (fakeMedia) MarkdownImage(_ context.Context, file, summary string) (media.MarkdownImage, error) {
	if file == "broken" {
		return media.MarkdownImage{}, media.ErrUpload
	}
	return media.MarkdownImage{Des: "![" + summary + " #1px #1px]", URL: "(" + file + ")"}, nil
}

func (fakeMedia) QRCode(_ context.Context, text string) (string, error) {
	return "base64://qr:" + text, nil
}

func (fakeMedia) HostURL(_ context.Context, file string) (string, error) {
	return "https://host/" + strings.TrimPrefix(file, "base64://"), nil
}

func (fakeMedia) Record(_ context.Context, file string) string { return "silk:" + file }

type fakeEval struct{}

func (fakeEval) Evaluate(expr string, data map[string]any) (string, error) {
	e, _ := data["e"].(map[string]any)
	return strings.ReplaceAll(expr, "{{e.user_id}}", fmt.Sprint(e["user_id"])), nil
}

func newComposer(opts Options) *Composer {
	if opts.AccountID == "" {
		opts.AccountID = "bot"
	}
	b := button.NewBuilder(button.Settings{AccountID: opts.AccountID}, callback.NewRegistry(), nil)
	return New(opts, b, fakeMedia{}, fakeEval{}, nil, nil)
}

func units(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("u%d", i)
	}
	return out
}

func buttonRows(n int) [][]message.ButtonSpec {
	rows := make([][]message.ButtonSpec, n)
	for i := range rows {
		rows[i] = []message.ButtonSpec{message.InputButton(fmt.Sprint(i), fmt.Sprint(i), false)}
	}
	return rows
}

func TestPlainMediaSplitsPackets(t *testing.T) {
	c := newComposer(Options{MediaPerPacket: 1})
	segs := []message.Segment{message.Text("hello "), message.Image("img1", ""), message.Text("world")}

	packets, err := c.ComposePlain(context.Background(), Target{}, segs)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, []message.ElementType{message.ElementText, message.ElementImage}, types(packets[0]))
	require.Equal(t, []message.ElementType{message.ElementText}, types(packets[1]))
}

func TestPlainMediaPerPacketTwo(t *testing.T) {
	c := newComposer(Options{MediaPerPacket: 2})
	segs := []message.Segment{message.Image("a", ""), message.Image("b", ""), message.Image("c", "")}
	packets, err := c.ComposePlain(context.Background(), Target{}, segs)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, 2, packets[0].MediaCount())
	require.Equal(t, 1, packets[1].MediaCount())
}

func TestPlainRecordTranscodedAndAtDropped(t *testing.T) {
	c := newComposer(Options{})
	packets, err := c.ComposePlain(context.Background(), Target{}, []message.Segment{
		message.At("u1"), message.Record("voice.mp3"),
	})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, message.ElementAudio, packets[0][0].Type)
	require.Equal(t, "silk:voice.mp3", packets[0][0].File)
}

func TestPlainURLBecomesQRImage(t *testing.T) {
	c := newComposer(Options{URLPattern: DefaultURLPattern})
	packets, err := c.ComposePlain(context.Background(), Target{}, []message.Segment{
		message.Text("see https://example.com/x now"),
	})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, message.ElementImage, packets[0][0].Type)
	require.Equal(t, "https://host/qr:https://example.com/x", packets[0][0].File)
	require.Equal(t, "see "+linkQRText+" now", packets[0][1].Text)
}

func TestPlainButtonsGoToKeyboardPackets(t *testing.T) {
	c := newComposer(Options{SendButton: true})
	packets, err := c.ComposePlain(context.Background(), Target{}, []message.Segment{
		message.Text("pick"), message.Buttons(buttonRows(7)...),
	})
	require.NoError(t, err)
	require.Len(t, packets, 3)
	require.Len(t, packets[1][0].Keyboard.Rows, 5)
	require.Len(t, packets[2][0].Keyboard.Rows, 2)

	c = newComposer(Options{SendButton: false})
	packets, err = c.ComposePlain(context.Background(), Target{}, []message.Segment{
		message.Text("pick"), message.Buttons(buttonRows(7)...),
	})
	require.NoError(t, err)
	require.Len(t, packets, 1)
}

func TestPlainNodeAndRaw(t *testing.T) {
	c := newComposer(Options{})
	packets, err := c.ComposePlain(context.Background(), Target{}, []message.Segment{
		message.Text("before"),
		message.Node([]message.Segment{message.Text("n1")}, []message.Segment{message.Text("n2")}),
		message.Raw(message.Element{Type: message.ElementText, Text: "r1"}, message.Element{Type: message.ElementText, Text: "r2"}),
		message.Raw(message.Element{Type: message.ElementText, Text: "inline"}),
	})
	require.NoError(t, err)
	require.Len(t, packets, 5)
	require.Equal(t, "before", packets[0][0].Text)
	require.Equal(t, "n2", packets[2][0].Text)
	require.Len(t, packets[3], 2)
	require.Equal(t, "inline", packets[4][0].Text)
}

func TestFileIsUnsupportedEverywhere(t *testing.T) {
	segs := []message.Segment{message.Text("x"), message.File("a.zip", "a.zip")}
	ctx := context.Background()
	c := newComposer(Options{Binding: KeyBinding("tpl", nil)})

	_, err := c.ComposePlain(ctx, Target{}, segs)
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = c.ComposeGuild(ctx, Target{}, segs)
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = c.ComposeTemplateMarkdown(ctx, Target{}, segs)
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = c.ComposeRawMarkdown(ctx, Target{}, segs)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestTemplateCapacityPacking(t *testing.T) {
	for _, capacity := range []int{1, 3, 10} {
		keys := strings.Split(DefaultTemplateKeys[:capacity], "")
		c := newComposer(Options{Binding: KeyBinding("tpl", keys)})
		for l := 1; l <= 25; l++ {
			in := units(l)
			packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{message.Custom(in...)})
			require.NoError(t, err)

			want := (l + capacity - 1) / capacity
			require.Len(t, packets, want, "capacity %d length %d", capacity, l)

			var got []string
			for i, p := range packets {
				params := p[0].Params
				if i < len(packets)-1 {
					require.Len(t, params, capacity)
				}
				for j, param := range params {
					require.Equal(t, keys[j], param.Key)
					got = append(got, param.Values[0])
				}
			}
			require.Equal(t, in, got)
		}
	}
}

func TestTemplateTwelveUnitsTenSlots(t *testing.T) {
	c := newComposer(Options{Binding: KeyBinding("tpl", nil)})
	packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{message.Custom(units(12)...)})
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Len(t, packets[0][0].Params, 10)
	require.Len(t, packets[1][0].Params, 2)
	require.Equal(t, "tpl", packets[1][0].CustomTemplateID)
}

func TestTemplateDynamicParams(t *testing.T) {
	params := []message.TemplateParam{{Key: "title", Values: []string{Placeholder}}, {Key: "body", Values: []string{Placeholder}}}
	c := newComposer(Options{Binding: ParamBinding("dyn", params)})
	packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{message.Custom("a", "b", "c")})
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, []string{"a"}, packets[0][0].Params[0].Values)
	require.Equal(t, []string{"c"}, packets[1][0].Params[0].Values)
	require.Equal(t, []string{Placeholder}, packets[1][0].Params[1].Values)
	// The binding itself is never mutated.
	require.Equal(t, []string{Placeholder}, params[0].Values)
}

func TestTemplateTextEscapingAndLinks(t *testing.T) {
	c := newComposer(Options{Binding: KeyBinding("tpl", nil), URLPattern: DefaultURLPattern})
	packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{
		message.Text("hi @all\nvisit https://example.com"),
	})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, "hi @"+Placeholder+"all\rvisit "+linkButtonText, packets[0][0].Params[0].Values[0])
	require.Equal(t, message.ElementButton, packets[0][1].Type)
	require.Equal(t, "https://example.com", packets[0][1].Buttons[0].Action.Data)
}

func TestTemplateImageUnits(t *testing.T) {
	c := newComposer(Options{Binding: KeyBinding("tpl", nil)})
	packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{
		message.Text("look"), message.Image("https://img/1.png", "cat"), message.Text("nice"),
	})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	var values []string
	for _, p := range packets[0][0].Params {
		values = append(values, p.Values[0])
	}
	require.Equal(t, []string{"look![cat #1px #1px]", "(https://img/1.png)nice"}, values)
}

func TestTemplateSplitsMarkdownLinks(t *testing.T) {
	got := splitLinks([]string{"a [x](y) b", "", "![i](u)"})
	require.Equal(t, []string{"a ", "[x]", "(y)", " b", "![i]", "(u)"}, got)
}

func TestButtonsAtMostFivePerPacket(t *testing.T) {
	c := newComposer(Options{Binding: KeyBinding("tpl", nil)})
	for _, b := range []int{1, 5, 6, 12} {
		packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{
			message.Text("x"), message.Buttons(buttonRows(b)...),
		})
		require.NoError(t, err)
		withButtons, total := 0, 0
		for _, p := range packets {
			n := 0
			for _, el := range p {
				if el.Type == message.ElementButton {
					n++
				}
			}
			require.LessOrEqual(t, n, MaxButtonRows)
			if n > 0 {
				withButtons++
			}
			total += n
		}
		require.Equal(t, b, total)
		require.GreaterOrEqual(t, withButtons, (b+MaxButtonRows-1)/MaxButtonRows)
	}
}

func TestTemplateOverflowUsesBlankTemplate(t *testing.T) {
	c := newComposer(Options{Binding: KeyBinding("tpl", nil)})
	packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{
		message.Text("x"), message.Buttons(buttonRows(7)...),
	})
	require.NoError(t, err)
	require.Len(t, packets, 2)
	overflow := packets[1]
	require.Equal(t, message.ElementMarkdown, overflow[0].Type)
	require.Equal(t, "tpl", overflow[0].CustomTemplateID)
	require.Equal(t, " ", overflow[0].Params[0].Values[0])
	require.Len(t, overflow, 3)
}

func TestMarkdownSuffix(t *testing.T) {
	c := newComposer(Options{
		Binding:        KeyBinding("tpl", []string{"a", "b"}),
		MarkdownSuffix: []SuffixParam{{Key: "z", Values: []string{"hi {{e.user_id}}"}}},
	})
	target := Target{Context: map[string]any{"user_id": "bot:u1"}}
	packets, err := c.ComposeTemplateMarkdown(context.Background(), target, []message.Segment{message.Custom("1", "2", "3")})
	require.NoError(t, err)
	require.Len(t, packets, 2)
	// Every template message of a long reply carries the suffix.
	for i, p := range packets {
		params := p[0].Params
		require.Equal(t, message.TemplateParam{Key: "z", Values: []string{"hi bot:u1"}}, params[len(params)-1], "packet %d", i)
	}
	require.Len(t, packets[0][0].Params, 3)
	require.Len(t, packets[1][0].Params, 2)

	// A produced param already carrying the key suppresses the suffix.
	c = newComposer(Options{
		Binding:        KeyBinding("tpl", []string{"z"}),
		MarkdownSuffix: []SuffixParam{{Key: "z", Values: []string{"suffix"}}},
	})
	packets, err = c.ComposeTemplateMarkdown(context.Background(), target, []message.Segment{message.Custom("own")})
	require.NoError(t, err)
	require.Len(t, packets[0][0].Params, 1)

	// Random rules with 0% are always dropped.
	c = newComposer(Options{
		Binding:        KeyBinding("tpl", nil),
		MarkdownSuffix: []SuffixParam{{Key: "z", Values: []string{"x"}, Show: &message.ShowRule{Type: "random", Percent: 0}}},
	})
	packets, err = c.ComposeTemplateMarkdown(context.Background(), target, []message.Segment{message.Custom("own")})
	require.NoError(t, err)
	require.Len(t, packets[0][0].Params, 1)
}

func TestTemplateWithoutUnitsSendsNoTemplate(t *testing.T) {
	params := []message.TemplateParam{{Key: "title", Values: []string{"x"}}, {Key: "body", Values: []string{"y"}}}
	bindings := map[string]Options{
		"keys with suffix": {
			Binding:        KeyBinding("tpl", nil),
			MarkdownSuffix: []SuffixParam{{Key: "z", Values: []string{"footer"}}},
		},
		"dynamic params": {Binding: ParamBinding("tpl", params)},
	}
	for name, opts := range bindings {
		c := newComposer(opts)
		packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{message.Video("v.mp4")})
		require.NoError(t, err, name)
		require.Len(t, packets, 1, name)
		require.Equal(t, []message.ElementType{message.ElementVideo}, types(packets[0]), name)

		packets, err = c.ComposeTemplateMarkdown(context.Background(), Target{}, nil)
		require.NoError(t, err, name)
		require.Empty(t, packets, name)
	}
}

func TestChunkUnits(t *testing.T) {
	require.Nil(t, chunkUnits(nil, 3))
	require.Equal(t, [][]string{{"a", "b"}}, chunkUnits([]string{"a", "b"}, 3))
	require.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunkUnits([]string{"a", "b", "c"}, 2))
}

func TestButtonSuffixPosition(t *testing.T) {
	c := newComposer(Options{
		Binding:      KeyBinding("tpl", nil),
		ButtonSuffix: &ButtonSuffix{Position: 2, Buttons: []message.ButtonSpec{message.LinkButton("more", "https://more")}},
	})
	packets, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{
		message.Text("x"), message.Buttons(buttonRows(3)...),
	})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, "https://more", packets[0][2].Buttons[0].Action.Data)

	// Not added when the queue is already full.
	packets, err = c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{
		message.Text("x"), message.Buttons(buttonRows(5)...),
	})
	require.NoError(t, err)
	require.Len(t, packets[0], 6)
}

func TestRawMarkdown(t *testing.T) {
	c := newComposer(Options{Binding: RawBinding()})
	packets, err := c.ComposeRawMarkdown(context.Background(), Target{}, []message.Segment{
		message.Reply("m1"),
		message.Text("hi "),
		message.At("bot:u1"),
		message.At(message.AtAll),
		message.Image("https://img/1.png", "cat"),
		message.Video("v.mp4"),
		message.Buttons(buttonRows(6)...),
	})
	require.NoError(t, err)
	require.Len(t, packets, 3)

	first := packets[0]
	require.Equal(t, message.ElementReply, first[0].Type)
	require.Equal(t, message.ElementMarkdown, first[1].Type)
	require.Equal(t, "hi <@u1>@everyone![cat #1px #1px](https://img/1.png)", first[1].Content)
	require.Len(t, first, 2+5)

	require.Equal(t, message.ElementReply, packets[1][0].Type)
	require.Equal(t, message.ElementVideo, packets[1][1].Type)

	overflow := packets[2]
	require.Equal(t, message.ElementReply, overflow[0].Type)
	require.Equal(t, Placeholder, overflow[1].Content)
	require.Len(t, overflow, 3)
}

func TestRawMarkdownEventReply(t *testing.T) {
	c := newComposer(Options{Binding: RawBinding()})
	packets, err := c.ComposeRawMarkdown(context.Background(), Target{}, []message.Segment{
		message.Reply("event_e1"), message.Text("x"),
	})
	require.NoError(t, err)
	require.Equal(t, "e1", packets[0][0].EventID)
}

func TestRawMarkdownURL(t *testing.T) {
	c := newComposer(Options{Binding: RawBinding(), URLPattern: DefaultURLPattern})
	packets, err := c.ComposeRawMarkdown(context.Background(), Target{}, []message.Segment{
		message.Text("go https://a.example"),
	})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, "go ![二维码 #1px #1px](base64://qr:https://a.example)", packets[0][0].Content)
	require.Equal(t, message.ElementButton, packets[0][1].Type)
}

func TestImageFailureIsReturned(t *testing.T) {
	c := newComposer(Options{Binding: KeyBinding("tpl", nil)})
	_, err := c.ComposeTemplateMarkdown(context.Background(), Target{}, []message.Segment{message.Image("broken", "")})
	require.True(t, errors.Is(err, media.ErrUpload))
}

func TestGuildComposer(t *testing.T) {
	c := newComposer(Options{SendButton: true})
	packets, err := c.ComposeGuild(context.Background(), Target{}, []message.Segment{
		message.At("qg_123"),
		message.Buttons(buttonRows(2)...),
		message.Image("https://img/1.png", ""),
		message.Text("tail"),
		message.Buttons(buttonRows(7)...),
	})
	require.NoError(t, err)
	require.Len(t, packets, 3)

	first := packets[0]
	require.Equal(t, "123", first[0].UserID)
	require.Equal(t, message.ElementImage, first[1].Type)
	require.Equal(t, message.ElementKeyboard, first[2].Type)
	require.Len(t, first[2].Keyboard.Rows, 2)

	require.Equal(t, "tail", packets[1][0].Text)
	require.Len(t, packets[1][1].Keyboard.Rows, 5)

	require.Equal(t, " ", packets[2][0].Text)
	require.Len(t, packets[2][1].Keyboard.Rows, 2)
}

func TestGuildButtonsWithoutContent(t *testing.T) {
	c := newComposer(Options{SendButton: true})
	packets, err := c.ComposeGuild(context.Background(), Target{}, []message.Segment{message.Buttons(buttonRows(1)...)})
	require.NoError(t, err)
	require.Len(t, packets, 1)
	require.Equal(t, []message.ElementType{message.ElementText, message.ElementKeyboard}, types(packets[0]))
}

func TestGuildRejectsAudioAndVideo(t *testing.T) {
	c := newComposer(Options{})
	_, err := c.ComposeGuild(context.Background(), Target{}, []message.Segment{message.Video("v")})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestGuildURLClosesPacket(t *testing.T) {
	c := newComposer(Options{URLPattern: DefaultURLPattern})
	packets, err := c.ComposeGuild(context.Background(), Target{}, []message.Segment{
		message.Text("a"), message.Text("b https://x.example"),
	})
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, []message.ElementType{message.ElementText, message.ElementImage}, types(packets[0]))
	require.Equal(t, "base64://qr:https://x.example", packets[0][1].File)
	require.Equal(t, "b "+linkQRText, packets[1][0].Text)
}

func TestMarkdownDispatch(t *testing.T) {
	ctx := context.Background()
	_, ok, err := newComposer(Options{}).Markdown(ctx, Target{}, []message.Segment{message.Text("x")})
	require.NoError(t, err)
	require.False(t, ok)

	packets, ok, err := newComposer(Options{Binding: RawBinding()}).Markdown(ctx, Target{}, []message.Segment{message.Text("x")})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", packets[0][0].Content)

	packets, ok, err = newComposer(Options{Binding: TemplateBinding{TemplateID: "tpl"}}).Markdown(ctx, Target{}, []message.Segment{message.Text("x")})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", packets[0][0].Params[0].Key)
}

func types(p message.Packet) []message.ElementType {
	out := make([]message.ElementType, len(p))
	for i, el := range p {
		out[i] = el.Type
	}
	return out
}
