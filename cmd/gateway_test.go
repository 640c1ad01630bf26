package cmd

import (
	"context"
	"reflect"
	"testing"

	"qqbot/pkg/config"
	"qqbot/pkg/inbound"
	"qqbot/pkg/message"
)

func TestEchoHandler(t *testing.T) {
	t.Parallel()

	segs, err := echoHandler(context.Background(), &inbound.Message{RawMessage: " hi "})
	if err != nil {
		t.Fatalf("echoHandler error: %v", err)
	}
	if !reflect.DeepEqual(segs, []message.Segment{message.Text("hi")}) {
		t.Fatalf("echoHandler = %#v, want one text segment", segs)
	}

	segs, err = echoHandler(context.Background(), &inbound.Message{RawMessage: "  "})
	if err != nil || segs != nil {
		t.Fatalf("echoHandler on blank = %#v, %v; want nil, nil", segs, err)
	}
}

func TestAccountNames(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Tokens: []string{"a:1:t:s", "b:2:t:s"}}
	if got := accountNames(cfg); got != "a,b" {
		t.Fatalf("accountNames = %q, want %q", got, "a,b")
	}

	cfg.Tokens = []string{"broken"}
	if got := accountNames(cfg); got != "" {
		t.Fatalf("accountNames with bad token = %q, want empty", got)
	}
}
