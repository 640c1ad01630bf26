// Package openapi is the HTTP transport to the QQ bot OpenAPI.
package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"qqbot/pkg/logger"
)

const (
	DefaultBaseURL = "https://api.sgroup.qq.com"
	SandboxBaseURL = "https://sandbox.api.sgroup.qq.com"

	defaultTimeout = 15 * time.Second
	// TokenType is the authorization scheme of bot access tokens.
	TokenType = "QQBot"
)

// Kind selects the endpoint family of a call.
type Kind string

const (
	KindFriend Kind = "friend"
	KindGroup  Kind = "group"
	KindGuild  Kind = "guild"
	KindDirect Kind = "direct"
)

// Target identifies a chat in platform ids.
type Target struct {
	UserID    string
	GroupID   string
	GuildID   string
	ChannelID string
}

// Config of one bot application.
type Config struct {
	AppID   string
	Token   string
	BaseURL string
	Sandbox bool
	Timeout time.Duration
	// TokenSource overrides the static token, for example with a refreshing source.
	TokenSource oauth2.TokenSource
}

// APIError is a non-2xx OpenAPI response.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"-"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("openapi: status %d", e.Status)
	if e.Code != 0 {
		msg += fmt.Sprintf(" code %d", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.TraceID != "" {
		msg += " (trace " + e.TraceID + ")"
	}
	return msg
}

// Client calls the OpenAPI for one bot application.
type Client struct {
	base   string
	appID  string
	http   *http.Client
	seq    atomic.Uint32
	loader FileLoader
	log    *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, errors.New("app id is required")
	}
	src := cfg.TokenSource
	if src == nil {
		if strings.TrimSpace(cfg.Token) == "" {
			return nil, errors.New("access token is required")
		}
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: TokenType})
	}
	if log == nil {
		log = slog.Default()
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
		if cfg.Sandbox {
			base = SandboxBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	hc := oauth2.NewClient(context.Background(), src)
	hc.Timeout = timeout

	return &Client{
		base:  base,
		appID: cfg.AppID,
		http:  hc,
		log:   logger.Component(log, "openapi").With("app_id", cfg.AppID),
	}, nil
}

// nextSeq returns a message sequence number; the platform rejects repeated
// sequence numbers for the same passive reply.
func (c *Client) nextSeq() int {
	return int(c.seq.Add(1))
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("X-Union-Appid", c.appID)

	c.log.Debug("request", "method", req.Method, "path", req.URL.Path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, TraceID: resp.Header.Get("X-Tps-Trace-Id")}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// User is the bot's own profile.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	UnionOpenID string `json:"union_openid,omitempty"`
}

// Me returns the bot profile.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/users/@me", nil, &u)
	return u, err
}

// Ack answers an interaction with code.
func (c *Client) Ack(ctx context.Context, interactionID string, code int) error {
	return c.do(ctx, http.MethodPut, "/interactions/"+url.PathEscape(interactionID), map[string]int{"code": code}, nil)
}

// DMS is a guild direct message session.
type DMS struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

// CreateDMS opens a direct message session with a guild member.
func (c *Client) CreateDMS(ctx context.Context, userID, srcGuildID string) (DMS, error) {
	var d DMS
	err := c.do(ctx, http.MethodPost, "/users/@me/dms", map[string]string{
		"recipient_id":    userID,
		"source_guild_id": srcGuildID,
	}, &d)
	return d, err
}

// Recall deletes a message. hide suppresses the recall notice in guilds.
func (c *Client) Recall(ctx context.Context, kind Kind, t Target, messageID string, hide bool) error {
	path, err := messagesPath(kind, t)
	if err != nil {
		return err
	}
	path += "/" + url.PathEscape(messageID)
	if hide && (kind == KindGuild || kind == KindDirect) {
		path += "?hidetip=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func messagesPath(kind Kind, t Target) (string, error) {
	switch kind {
	case KindFriend:
		return "/v2/users/" + url.PathEscape(t.UserID) + "/messages", nil
	case KindGroup:
		return "/v2/groups/" + url.PathEscape(t.GroupID) + "/messages", nil
	case KindGuild:
		return "/channels/" + url.PathEscape(t.ChannelID) + "/messages", nil
	case KindDirect:
		return "/dms/" + url.PathEscape(t.GuildID) + "/messages", nil
	default:
		return "", fmt.Errorf("unknown target kind %q", kind)
	}
}

func filesPath(kind Kind, t Target) (string, error) {
	switch kind {
	case KindFriend:
		return "/v2/users/" + url.PathEscape(t.UserID) + "/files", nil
	case KindGroup:
		return "/v2/groups/" + url.PathEscape(t.GroupID) + "/files", nil
	default:
		return "", fmt.Errorf("rich media upload is not available for %s", kind)
	}
}
