package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"qqbot/pkg/logger"
)

const (
	envPrefix     = "QQBOT_"
	envConfigPath = "QQBOT_CONFIG"
	envTokens     = "QQBOT_TOKENS"

	// MarkdownRaw selects raw markdown instead of a template id.
	MarkdownRaw = "raw"
)

// Config is the root runtime configuration loaded from config.yaml.
type Config struct {
	// Tokens are accounts in id:appid:token:secret:group:guild form.
	Tokens  []string `yaml:"tokens" koanf:"tokens"`
	Sandbox bool     `yaml:"sandbox" koanf:"sandbox"`

	ToQRCode bool `yaml:"to_qrcode" koanf:"to_qrcode"`
	// QRCodePattern replaces the default URL pattern when set.
	QRCodePattern   string `yaml:"qrcode_pattern,omitempty" koanf:"qrcode_pattern"`
	ToCallback      bool   `yaml:"to_callback" koanf:"to_callback"`
	ToBotUpload     bool   `yaml:"to_bot_upload" koanf:"to_bot_upload"`
	HideGuildRecall bool   `yaml:"hide_guild_recall" koanf:"hide_guild_recall"`
	ToQQUin         bool   `yaml:"to_qq_uin" koanf:"to_qq_uin"`
	SendButton      bool   `yaml:"send_button" koanf:"send_button"`

	MarkdownImgScale float64 `yaml:"markdown_img_scale" koanf:"markdown_img_scale"`
	MediaPerPacket   int     `yaml:"media_per_packet" koanf:"media_per_packet"`
	// CallbackTTL is in seconds; 0 keeps callback entries until evicted.
	CallbackTTL int `yaml:"callback_ttl" koanf:"callback_ttl"`
	// VoiceEncoder is a command that reads audio on stdin and writes the
	// platform voice codec on stdout.
	VoiceEncoder []string `yaml:"voice_encoder,omitempty" koanf:"voice_encoder"`

	// Markdown maps an account id to a template id or "raw".
	Markdown       map[string]string            `yaml:"markdown,omitempty" koanf:"markdown"`
	MarkdownKeys   string                       `yaml:"markdown_keys,omitempty" koanf:"markdown_keys"`
	CustomMarkdown map[string]CustomMarkdown    `yaml:"custom_markdown,omitempty" koanf:"custom_markdown"`
	MarkdownSuffix map[string][]SuffixParam     `yaml:"markdown_suffix,omitempty" koanf:"markdown_suffix"`
	ButtonSuffix   map[string]ButtonSuffix      `yaml:"button_suffix,omitempty" koanf:"button_suffix"`
	FilterLog      map[string][]string          `yaml:"filter_log,omitempty" koanf:"filter_log"`
	Welcome        string                       `yaml:"welcome,omitempty" koanf:"welcome"`
	UserAliases    map[string]map[string]string `yaml:"user_aliases,omitempty" koanf:"user_aliases"`

	Gateway GatewayConfig `yaml:"gateway" koanf:"gateway"`
	Logging LoggingConfig `yaml:"logging,omitempty" koanf:"logging"`
	Storage StorageConfig `yaml:"storage,omitempty" koanf:"storage"`
}

// CustomMarkdown binds an account to a template with its own keys, or to a
// dynamic parameter list when Params is set.
type CustomMarkdown struct {
	TemplateID string       `yaml:"custom_template_id" koanf:"custom_template_id"`
	Keys       []string     `yaml:"keys,omitempty" koanf:"keys"`
	Params     []ParamValue `yaml:"params,omitempty" koanf:"params"`
}

// ParamValue is one template param.
type ParamValue struct {
	Key    string   `yaml:"key" koanf:"key"`
	Values []string `yaml:"values" koanf:"values"`
}

// SuffixParam is a param appended to every templated message. Values[0] may
// hold a mustache expression over "e".
type SuffixParam struct {
	Key    string    `yaml:"key" koanf:"key"`
	Values []string  `yaml:"values" koanf:"values"`
	Show   *ShowRule `yaml:"show,omitempty" koanf:"show"`
}

// ShowRule keeps an entry with a random chance when Type is "random".
type ShowRule struct {
	Type string `yaml:"type" koanf:"type"`
	Data int    `yaml:"data" koanf:"data"`
}

// ButtonSuffix is a row of buttons inserted at a 1-based position.
type ButtonSuffix struct {
	Position int `yaml:"position" koanf:"position"`
	// Values are loose button objects, as accepted in button segments.
	Values []map[string]any `yaml:"values" koanf:"values"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `yaml:"format,omitempty" koanf:"format"`
	Level     string `yaml:"level,omitempty" koanf:"level"`
	AddSource bool   `yaml:"add_source,omitempty" koanf:"add_source"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `yaml:"host" koanf:"host"`
	Port int    `yaml:"port" koanf:"port"`
	// PublicURL is the externally reachable base of the gateway, used to
	// host media files for the platform.
	PublicURL string `yaml:"public_url,omitempty" koanf:"public_url"`
	// FileTTL is how long hosted files stay available, in seconds.
	FileTTL int `yaml:"file_ttl,omitempty" koanf:"file_ttl"`
}

// StorageConfig selects where identity caches persist. An empty path keeps
// them in memory.
type StorageConfig struct {
	Path string `yaml:"path,omitempty" koanf:"path"`
}

// Account is one parsed token.
type Account struct {
	ID     string
	AppID  string
	Token  string
	Secret string
	// Group enables group and C2C events.
	Group bool
	// PrivateGuild receives every guild message instead of mentions only.
	PrivateGuild bool
}

// String formats the account back into token form.
func (a Account) String() string {
	return strings.Join([]string{a.ID, a.AppID, a.Token, a.Secret, flag(a.Group), flag(a.PrivateGuild)}, ":")
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ParseToken parses id:appid:token:secret[:group[:guild]].
func ParseToken(token string) (Account, error) {
	parts := strings.Split(strings.TrimSpace(token), ":")
	if len(parts) < 4 {
		return Account{}, fmt.Errorf("token %q: want id:appid:token:secret[:group:guild]", token)
	}
	acc := Account{ID: parts[0], AppID: parts[1], Token: parts[2], Secret: parts[3]}
	if acc.ID == "" || acc.AppID == "" || acc.Token == "" {
		return Account{}, fmt.Errorf("token %q: id, appid and token are required", token)
	}
	if len(parts) > 4 {
		acc.Group = truthy(parts[4])
	}
	if len(parts) > 5 {
		acc.PrivateGuild = truthy(parts[5])
	}
	return acc, nil
}

func truthy(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n != 0
}

// DefaultConfig returns the settings used when config.yaml omits them.
func DefaultConfig() *Config {
	return &Config{
		ToQRCode:         true,
		ToCallback:       true,
		ToBotUpload:      true,
		SendButton:       true,
		MarkdownImgScale: 1,
		MediaPerPacket:   1,
		MarkdownKeys:     "abcdefghij",
		Gateway:          GatewayConfig{Host: "127.0.0.1", Port: 18790, FileTTL: 300},
	}
}

// LoadConfig resolves config.yaml, loads it over defaults and applies
// environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(configPath)
}

// Load reads path over defaults, then overlays QQBOT_* environment variables.
// A double underscore in a variable name descends into a section, so
// QQBOT_GATEWAY__PORT sets gateway.port.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("access config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if raw := strings.TrimSpace(os.Getenv(envTokens)); raw != "" {
		cfg.Tokens = parseCSV(raw)
	}
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for _, token := range c.Tokens {
		acc, err := ParseToken(token)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[acc.ID] {
			errs = append(errs, fmt.Errorf("duplicate account %q", acc.ID))
		}
		seen[acc.ID] = true
	}
	if c.QRCodePattern != "" {
		if _, err := regexp.Compile(c.QRCodePattern); err != nil {
			errs = append(errs, fmt.Errorf("qrcode_pattern: %w", err))
		}
	}
	if c.MediaPerPacket < 0 {
		errs = append(errs, errors.New("media_per_packet must be non-negative"))
	}
	if c.CallbackTTL < 0 {
		errs = append(errs, errors.New("callback_ttl must be non-negative"))
	}
	if c.MarkdownImgScale < 0 {
		errs = append(errs, errors.New("markdown_img_scale must be non-negative"))
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	for id, suffix := range c.ButtonSuffix {
		if suffix.Position < 1 {
			errs = append(errs, fmt.Errorf("button_suffix.%s.position must be at least 1", id))
		}
	}
	return errors.Join(errs...)
}

// Accounts parses every token.
func (c *Config) Accounts() ([]Account, error) {
	out := make([]Account, 0, len(c.Tokens))
	for _, token := range c.Tokens {
		acc, err := ParseToken(token)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// LoggerOptions returns the logging settings with every account token and
// secret registered for masking. Unparseable tokens are skipped; Validate
// reports them.
func (c *Config) LoggerOptions() logger.Options {
	opts := logger.Options{
		Format:    c.Logging.Format,
		Level:     c.Logging.Level,
		AddSource: c.Logging.AddSource,
	}
	for _, token := range c.Tokens {
		acc, err := ParseToken(token)
		if err != nil {
			continue
		}
		opts.Secrets = append(opts.Secrets, acc.Token, acc.Secret)
	}
	return opts
}

// AddToken adds token, replacing an account with the same id. It reports
// whether an account was replaced.
func (c *Config) AddToken(token string) (bool, error) {
	acc, err := ParseToken(token)
	if err != nil {
		return false, err
	}
	for i, existing := range c.Tokens {
		if other, err := ParseToken(existing); err == nil && other.ID == acc.ID {
			c.Tokens[i] = token
			return true, nil
		}
	}
	c.Tokens = append(c.Tokens, token)
	return false, nil
}

// RemoveToken removes the account given as a full token or a bare id.
func (c *Config) RemoveToken(tokenOrID string) bool {
	n := len(c.Tokens)
	c.Tokens = slices.DeleteFunc(c.Tokens, func(t string) bool {
		if t == tokenOrID {
			return true
		}
		acc, err := ParseToken(t)
		return err == nil && acc.ID == tokenOrID
	})
	return len(c.Tokens) != n
}

// AddFilterLog adds text to the account's filtered log lines. It reports
// false when it was already present.
func (c *Config) AddFilterLog(accountID, text string) bool {
	if slices.Contains(c.FilterLog[accountID], text) {
		return false
	}
	if c.FilterLog == nil {
		c.FilterLog = make(map[string][]string)
	}
	c.FilterLog[accountID] = append(c.FilterLog[accountID], text)
	return true
}

// RemoveFilterLog removes text from the account's filtered log lines.
func (c *Config) RemoveFilterLog(accountID, text string) bool {
	lines := c.FilterLog[accountID]
	i := slices.Index(lines, text)
	if i < 0 {
		return false
	}
	c.FilterLog[accountID] = slices.Delete(lines, i, i+1)
	return true
}

// SetMarkdown binds accountID to a template id, or to raw markdown.
func (c *Config) SetMarkdown(accountID, templateID string) {
	if c.Markdown == nil {
		c.Markdown = make(map[string]string)
	}
	if templateID == "" {
		delete(c.Markdown, accountID)
		return
	}
	c.Markdown[accountID] = templateID
}

// Switches are the boolean settings exposed by "qqbot set".
var Switches = []string{"qrcode", "callback", "upload", "recall", "qquin", "button"}

// SetSwitch flips one boolean setting by its short name.
func (c *Config) SetSwitch(name string, on bool) error {
	switch name {
	case "qrcode":
		c.ToQRCode = on
	case "callback":
		c.ToCallback = on
	case "upload":
		c.ToBotUpload = on
	case "recall":
		c.HideGuildRecall = on
	case "qquin":
		c.ToQQUin = on
	case "button":
		c.SendButton = on
	default:
		return fmt.Errorf("unknown setting %q (want one of %s)", name, strings.Join(Switches, ", "))
	}
	return nil
}

// CallbackTTLDuration returns callback_ttl as a duration.
func (c *Config) CallbackTTLDuration() time.Duration {
	return time.Duration(c.CallbackTTL) * time.Second
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// Path returns the active config file location, or the default location
// when none exists yet.
func Path() string {
	if p, err := findConfigPath(); err == nil {
		return p
	}
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		return value
	}
	return "config.yaml"
}

// findConfigPath resolves the active config file location.
//
// Precedence is QQBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.yaml not found (checked %s and %s)", candidates[0], candidates[1])
}
