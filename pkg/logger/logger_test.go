package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(Options{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	Account(log, "channel.qqbot", "bot").Info("Sending message", "group_id", "bot:g1", "ok", true)

	entry := decodeEntry(t, &out)
	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Message != "Sending message" {
		t.Fatalf("message = %q, want %q", entry.Message, "Sending message")
	}
	if entry.Component != "channel.qqbot" {
		t.Fatalf("component = %q, want %q", entry.Component, "channel.qqbot")
	}
	if entry.AccountID != "bot" {
		t.Fatalf("account_id = %q, want %q", entry.AccountID, "bot")
	}
	if entry.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if got := entry.Fields["group_id"]; got != "bot:g1" {
		t.Fatalf("fields.group_id = %v, want %q", got, "bot:g1")
	}
	if got := entry.Fields["ok"]; got != true {
		t.Fatalf("fields.ok = %v, want true", got)
	}
	if _, ok := entry.Fields[AccountKey]; ok {
		t.Fatal("account_id must not be repeated in fields")
	}
}

func TestComponentWithoutAccount(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(Options{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	Account(log, "media", "").Info("Hosted")
	entry := decodeEntry(t, &out)
	if entry.Component != "media" || entry.AccountID != "" {
		t.Fatalf("component, account_id = %q, %q; want media and empty", entry.Component, entry.AccountID)
	}

	if Component(nil, "x") == nil {
		t.Fatal("expected a logger from the default")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(Options{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv("QQBOT_LOG_LEVEL", "debug")
	t.Setenv("QQBOT_LOG_FORMAT", "text")

	var out bytes.Buffer
	log, err := newWithWriter(Options{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(Options{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestLoggerRejectsUnknownFormat(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := newWithWriter(Options{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestLoggerMasksAccountSecrets(t *testing.T) {
	unsetLoggingEnv(t)

	const token, secret = "tok-0123456789", "sec-abcdefghij"
	var out bytes.Buffer
	log, err := newWithWriter(Options{Format: "json", Secrets: []string{token, secret, "", "1"}}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("token", "bot:app:"+token+":"+secret).Info(
		"Fetching access token with "+secret,
		"app_id", "app1",
		"error", errors.New("auth failed for "+token),
		"retry", 1,
	)

	entry := decodeEntry(t, &out)
	if got := entry.Fields["token"]; got != "bot:app:"+redacted+":"+redacted {
		t.Fatalf("fields.token = %v", got)
	}
	if got := entry.Fields["error"]; got != "auth failed for "+redacted {
		t.Fatalf("fields.error = %v", got)
	}
	if entry.Message != "Fetching access token with "+redacted {
		t.Fatalf("message = %q", entry.Message)
	}
	if got := entry.Fields["app_id"]; got != "app1" {
		t.Fatalf("fields.app_id = %v, want %q", got, "app1")
	}
	// Short values are never treated as secrets.
	if got := entry.Fields["retry"]; got != float64(1) {
		t.Fatalf("fields.retry = %v, want 1", got)
	}
}

func TestLoggerTextMasksSecrets(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(Options{Format: "text", Secrets: []string{"tok-0123456789"}}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Account connected", "token", "bot:app:tok-0123456789:sec")
	if strings.Contains(out.String(), "tok-0123456789") {
		t.Fatalf("expected token to be redacted, got %q", out.String())
	}
}

func TestReplacerPrefersLongestSecret(t *testing.T) {
	r := newReplacer([]string{"abcdef", "abcdefghij", "abcdef"})
	if got := r.Replace("x abcdefghij y"); got != "x "+redacted+" y" {
		t.Fatalf("Replace = %q", got)
	}
	if newReplacer([]string{"", "abc"}) != nil {
		t.Fatal("expected no replacer without usable secrets")
	}
}

func decodeEntry(t *testing.T, out *bytes.Buffer) LogEntry {
	t.Helper()
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	return entry
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	_ = os.Unsetenv("QQBOT_LOG_LEVEL")
	_ = os.Unsetenv("QQBOT_LOG_FORMAT")
	_ = os.Unsetenv("QQBOT_LOG_ADD_SOURCE")
}
