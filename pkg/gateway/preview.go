package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"qqbot/pkg/callback"
	"qqbot/pkg/compose"
	"qqbot/pkg/config"
	"qqbot/pkg/delivery"
	"qqbot/pkg/identity"
	"qqbot/pkg/media"
	"qqbot/pkg/message"
	"qqbot/pkg/telemetry"
)

// PreviewResult is what a delivery would have transmitted.
type PreviewResult struct {
	AccountID string           `json:"account_id"`
	Kind      delivery.Kind    `json:"kind"`
	Packets   []message.Packet `json:"packets"`
	Errors    []string         `json:"errors,omitempty"`
}

// Preview composes segs for accountID and records every packet instead of
// sending it. An empty accountID picks the first configured account.
func Preview(ctx context.Context, cfg *config.Config, accountID string, kind delivery.Kind, segs []message.Segment, log *slog.Logger) (PreviewResult, error) {
	if cfg == nil {
		return PreviewResult{}, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}
	acc, err := findAccount(cfg, accountID)
	if err != nil {
		return PreviewResult{}, err
	}
	settings, err := cfg.Resolve(acc)
	if err != nil {
		return PreviewResult{}, err
	}

	deps := shared{
		caches:    identity.NewCaches(nil),
		aliases:   identity.NewAliasCache(),
		registry:  callback.NewRegistry(callback.WithTTL(cfg.CallbackTTLDuration())),
		telemetry: telemetry.Nop{},
		loader:    media.NewLoader(nil),
	}
	engine := newEngine(cfg, settings, deps, log)

	target := compose.Target{MessageID: "preview"}
	switch kind {
	case delivery.KindFriend, delivery.KindDirect:
		target.UserID = identity.Composite(acc.ID, "preview_user")
	case delivery.KindGroup, delivery.KindGuild:
		target.GroupID = identity.Composite(acc.ID, "preview_group")
	default:
		return PreviewResult{}, fmt.Errorf("unknown target kind %q", kind)
	}

	out := PreviewResult{AccountID: acc.ID, Kind: kind}
	n := 0
	res := engine.Send(ctx, delivery.Request{
		Kind:     kind,
		Target:   target,
		Segments: segs,
		Transmit: func(_ context.Context, p message.Packet) (delivery.SendResponse, error) {
			n++
			out.Packets = append(out.Packets, p)
			return delivery.SendResponse{ID: fmt.Sprintf("preview-%d", n)}, nil
		},
	})
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out, nil
}

func findAccount(cfg *config.Config, accountID string) (config.Account, error) {
	accounts, err := cfg.Accounts()
	if err != nil {
		return config.Account{}, err
	}
	for _, acc := range accounts {
		if accountID == "" || acc.ID == accountID {
			return acc, nil
		}
	}
	if accountID == "" {
		return config.Account{}, errors.New("no bot accounts are configured")
	}
	return config.Account{}, fmt.Errorf("account %s is not configured", accountID)
}
