package inbound

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrNoSecret = errors.New("webhook secret is not configured")

// ValidationResponse answers an op 13 callback address check.
type ValidationResponse struct {
	PlainToken string `json:"plain_token"`
	Signature  string `json:"signature"`
}

// Ack is the body returned for dispatches.
type Ack struct {
	Code int `json:"code"`
}

// Seed stretches secret to an ed25519 seed by repeating it.
func Seed(secret string) []byte {
	if secret == "" {
		return nil
	}
	for len(secret) < ed25519.SeedSize {
		secret = strings.Repeat(secret, 2)
	}
	return []byte(secret[:ed25519.SeedSize])
}

// Sign signs event_ts followed by plain_token with the key derived from secret.
func Sign(secret, eventTS, plainToken string) (string, error) {
	seed := Seed(secret)
	if seed == nil {
		return "", ErrNoSecret
	}
	key := ed25519.NewKeyFromSeed(seed)
	return hex.EncodeToString(ed25519.Sign(key, []byte(eventTS+plainToken))), nil
}

// Verify checks a platform request signature over timestamp+body.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	seed := Seed(secret)
	sig, err := hex.DecodeString(signature)
	if seed == nil || err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return ed25519.Verify(pub, append([]byte(timestamp), body...), sig)
}

// HandleWebhook decodes one webhook body. Validation requests are answered
// with a signature; dispatches are routed through Dispatch and acked.
func (n *Normalizer) HandleWebhook(ctx context.Context, secret string, body []byte) (any, error) {
	p, err := DecodePayload(body)
	if err != nil {
		return nil, err
	}

	switch p.Op {
	case OpValidation:
		d := gjson.ParseBytes(p.Data)
		token := d.Get("plain_token").String()
		sig, err := Sign(secret, d.Get("event_ts").String(), token)
		if err != nil {
			return nil, err
		}
		return ValidationResponse{PlainToken: token, Signature: sig}, nil
	case OpDispatch:
		if p.Type == "" {
			return nil, fmt.Errorf("%w: dispatch without event type", ErrInvalidPayload)
		}
		if err := n.Dispatch(ctx, p.Type, p.Data); err != nil {
			n.log.Warn("dispatch event failed", "type", p.Type, "error", err)
		}
		return Ack{Code: 0}, nil
	default:
		n.log.Debug("ignored webhook op", "op", p.Op)
		return Ack{Code: 0}, nil
	}
}
