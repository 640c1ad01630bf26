package message

import (
	"encoding/json"
	"testing"
)

func TestNormalizeStringsAndSegments(t *testing.T) {
	got := Normalize([]any{"hello", Image("https://a/b.png", "pic"), []Segment{Text("x")}})
	if len(got) != 3 {
		t.Fatalf("Normalize len = %d, want 3", len(got))
	}
	if got[0].Type != TypeText || got[0].Text != "hello" {
		t.Fatalf("segment 0 = %+v, want text hello", got[0])
	}
	if got[1].Type != TypeImage || got[1].Summary != "pic" {
		t.Fatalf("segment 1 = %+v, want image", got[1])
	}
	if got[2].Type != TypeText {
		t.Fatalf("segment 2 type = %q, want %q", got[2].Type, TypeText)
	}
}

func TestNormalizeUnknownBecomesJSONText(t *testing.T) {
	got := Normalize(map[string]any{"type": "poke", "id": 1.0})
	if len(got) != 1 || got[0].Type != TypeText {
		t.Fatalf("Normalize = %+v, want one text segment", got)
	}
	if got[0].Text != `{"id":1,"type":"poke"}` {
		t.Fatalf("text = %q, want serialized object", got[0].Text)
	}

	got = Normalize(42)
	if len(got) != 1 || got[0].Text != "42" {
		t.Fatalf("Normalize(42) = %+v, want text 42", got)
	}
}

func TestNormalizeJSONButtons(t *testing.T) {
	doc := `[
		{"type":"text","text":"pick one"},
		{"type":"button","data":[
			[{"text":"A","callback":"a"},{"text":"B","link":"https://b"}],
			[{"text":"C","input":"/c","send":true,"permission":"admin","show":{"type":"random","data":50}}]
		]}
	]`
	got := NormalizeJSON([]byte(doc))
	if len(got) != 2 {
		t.Fatalf("NormalizeJSON len = %d, want 2", len(got))
	}
	rows := got[1].Rows
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 1 {
		t.Fatalf("rows = %+v, want 2+1 buttons", rows)
	}
	c := rows[1][0]
	if !c.AutoSend || c.Input != "/c" || c.Permission.Kind != AdminOnly {
		t.Fatalf("button C = %+v", c)
	}
	if c.Show == nil || c.Show.Percent != 50 {
		t.Fatalf("button C show = %+v, want 50%%", c.Show)
	}
}

func TestNormalizeFlatButtonRow(t *testing.T) {
	got := Normalize(map[string]any{
		"type": "button",
		"data": []any{map[string]any{"text": "only", "callback": "x", "permission": []any{"1", "2"}}},
	})
	if len(got[0].Rows) != 1 || len(got[0].Rows[0]) != 1 {
		t.Fatalf("rows = %+v, want single row", got[0].Rows)
	}
	perm := got[0].Rows[0][0].Permission
	if perm.Kind != AllowList || len(perm.UserIDs) != 2 {
		t.Fatalf("permission = %+v, want allow list of 2", perm)
	}
}

func TestNormalizeInvalidJSONIsText(t *testing.T) {
	got := NormalizeJSON([]byte("not json"))
	if len(got) != 1 || got[0].Text != "not json" {
		t.Fatalf("NormalizeJSON = %+v, want text", got)
	}
}

func TestNormalizeNodeAndRaw(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"node","data":[{"message":"first"},{"message":[{"type":"text","text":"second"}]}]},
		{"type":"raw","data":{"type":"keyboard","keyboard":{"id":"kb1"}}},
		{"type":"raw","data":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}
	]`)
	got := Normalize(raw)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if len(got[0].Nodes) != 2 || got[0].Nodes[1][0].Text != "second" {
		t.Fatalf("node = %+v", got[0].Nodes)
	}
	if !got[1].IsKeyboard() {
		t.Fatal("expected single raw keyboard to be a keyboard segment")
	}
	if !got[2].RawList || len(got[2].Elements) != 2 {
		t.Fatalf("raw list = %+v", got[2])
	}
}

func TestButtonValidate(t *testing.T) {
	if err := CallbackButton("a", "b").Validate(); err != nil {
		t.Fatalf("Validate callback = %v, want nil", err)
	}
	if err := (ButtonSpec{Label: "none"}).Validate(); err != ErrButtonAction {
		t.Fatalf("Validate empty = %v, want ErrButtonAction", err)
	}
	if err := (ButtonSpec{Link: "x", Input: "y"}).Validate(); err != ErrButtonAction {
		t.Fatalf("Validate two actions = %v, want ErrButtonAction", err)
	}
}

func TestShowRuleKeep(t *testing.T) {
	var nilRule *ShowRule
	if !nilRule.Keep() {
		t.Fatal("nil rule should keep")
	}
	if (&ShowRule{Type: "random", Percent: 0}).Keep() {
		t.Fatal("0% rule should drop")
	}
	if !(&ShowRule{Type: "random", Percent: 101}).Keep() {
		t.Fatal("101% rule should keep")
	}
}

func TestReplyElementEventPrefix(t *testing.T) {
	el := Reply("event_abc").ReplyElement()
	if el.EventID != "abc" || el.ID != "" {
		t.Fatalf("reply element = %+v, want event id abc", el)
	}
	el = Reply("m1").ReplyElement()
	if el.ID != "m1" {
		t.Fatalf("reply element id = %q, want m1", el.ID)
	}
}

func TestHasMarkdownAndKeyboard(t *testing.T) {
	segs := []Segment{MarkdownText("# hi"), KeyboardSegment(Keyboard{ID: "k"})}
	if !HasMarkdownAndKeyboard(segs) {
		t.Fatal("expected markdown+keyboard")
	}
	if HasMarkdownAndKeyboard(segs[:1]) {
		t.Fatal("markdown alone should not match")
	}
}

func TestElementHelpers(t *testing.T) {
	if !(Element{Type: ElementMarkdown, Content: "  "}).IsBlankMarkdown() {
		t.Fatal("whitespace markdown should be blank")
	}
	if (Element{Type: ElementMarkdown, CustomTemplateID: "t"}).IsBlankMarkdown() {
		t.Fatal("templated markdown should not be blank")
	}
	p := Packet{{Type: ElementText}, {Type: ElementImage}, {Type: ElementVideo}}
	if got := p.MediaCount(); got != 2 {
		t.Fatalf("MediaCount = %d, want 2", got)
	}
	kb := Element{Type: ElementKeyboard, Keyboard: &Keyboard{Rows: []Row{{Buttons: make([]Button, 3)}, {Buttons: make([]Button, 2)}}}}
	if got := kb.ButtonCount(); got != 5 {
		t.Fatalf("ButtonCount = %d, want 5", got)
	}
}

func TestMarkdownElementLayout(t *testing.T) {
	el := Markdown{Content: "x", HideAvatarAndCenter: true}.Element()
	if el.Style["layout"] != "hide_avatar_and_center" {
		t.Fatalf("style = %+v, want layout", el.Style)
	}
}
