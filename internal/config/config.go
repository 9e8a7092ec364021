package config

import (
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// EnvPrefix prefixes environment overrides. A double underscore separates
// sections from keys: ANNOTRACK_SERVER__PORT sets server.port.
const EnvPrefix = "ANNOTRACK_"

type Config struct {
	GitHub     GitHub     `koanf:"github" yaml:"github"`
	Repository Repository `koanf:"repository" yaml:"repository"`
	Webhook    Webhook    `koanf:"webhook" yaml:"webhook"`
	Database   Database   `koanf:"database" yaml:"database"`
	Sheets     Sheets     `koanf:"sheets" yaml:"sheets"`
	Sync       Sync       `koanf:"sync" yaml:"sync"`
	Server     Server     `koanf:"server" yaml:"server"`
	Logging    Logging    `koanf:"logging" yaml:"logging"`
}

// GitHub describes the remote report repository read over HTTP.
type GitHub struct {
	Owner          string        `koanf:"owner" yaml:"owner"`
	Repo           string        `koanf:"repo" yaml:"repo"`
	Branch         string        `koanf:"branch" yaml:"branch"`
	APIBase        string        `koanf:"api_base" yaml:"api_base"`
	RawBase        string        `koanf:"raw_base" yaml:"raw_base"`
	WebBase        string        `koanf:"web_base" yaml:"web_base"`
	TokenEnv       string        `koanf:"token_env" yaml:"token_env"`
	RequestTimeout time.Duration `koanf:"request_timeout" yaml:"request_timeout"`

	ReportsDir               string `koanf:"reports_dir" yaml:"reports_dir"`
	AnnotatorsDir            string `koanf:"annotators_dir" yaml:"annotators_dir"`
	AnnotatorStatusPath      string `koanf:"annotator_status_path" yaml:"annotator_status_path"`
	RegisteredAnnotatorsPath string `koanf:"registered_annotators_path" yaml:"registered_annotators_path"`
	HourlyReportPath         string `koanf:"hourly_report_path" yaml:"hourly_report_path"`
	AudioSummaryPath         string `koanf:"audio_summary_path" yaml:"audio_summary_path"`
}

// Repository is the local sparse clone refreshed on every sync.
type Repository struct {
	URL        string `koanf:"url" yaml:"url"`
	Path       string `koanf:"path" yaml:"path"`
	Branch     string `koanf:"branch" yaml:"branch"`
	SparsePath string `koanf:"sparse_path" yaml:"sparse_path"`
}

type Webhook struct {
	SecretEnv    string `koanf:"secret_env" yaml:"secret_env"`
	MaxBodyBytes int64  `koanf:"max_body_bytes" yaml:"max_body_bytes"`
}

type Database struct {
	Driver string `koanf:"driver" yaml:"driver"`
	Path   string `koanf:"path" yaml:"path"`
	DSNEnv string `koanf:"dsn_env" yaml:"dsn_env"`
}

type Sheets struct {
	CredentialsEnv             string            `koanf:"credentials_env" yaml:"credentials_env"`
	StatsSpreadsheetID         string            `koanf:"stats_spreadsheet_id" yaml:"stats_spreadsheet_id"`
	AnnotatorsSpreadsheetID    string            `koanf:"annotators_spreadsheet_id" yaml:"annotators_spreadsheet_id"`
	HourlySpreadsheetID        string            `koanf:"hourly_spreadsheet_id" yaml:"hourly_spreadsheet_id"`
	CountSummarySpreadsheetIDs []string          `koanf:"count_summary_spreadsheet_ids" yaml:"count_summary_spreadsheet_ids"`
	LanguageSpreadsheetIDs     map[string]string `koanf:"language_spreadsheet_ids" yaml:"language_spreadsheet_ids"`
	ChunkSize                  int               `koanf:"chunk_size" yaml:"chunk_size"`
	ChunkPause                 time.Duration     `koanf:"chunk_pause" yaml:"chunk_pause"`
}

type Sync struct {
	Workers          int           `koanf:"workers" yaml:"workers"`
	CompletionTarget int           `koanf:"completion_target" yaml:"completion_target"`
	WatchDebounce    time.Duration `koanf:"watch_debounce" yaml:"watch_debounce"`
	Timeout          time.Duration `koanf:"timeout" yaml:"timeout"`
}

type Server struct {
	Host      string `koanf:"host" yaml:"host"`
	Port      int    `koanf:"port" yaml:"port"`
	PublicURL string `koanf:"public_url" yaml:"public_url"`
}

type Logging struct {
	Level string `koanf:"level" yaml:"level"`
}

// ConfigDir returns the XDG config directory for annotrack.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "annotrack")
}

// DataDir returns the XDG data directory for annotrack.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "annotrack")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/annotrack/config.yaml > ./config.yaml
//
// Unlike a missing explicit path, finding no file at all is not an error:
// the embedded defaults and environment overrides still apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// LoadDotEnv loads a .env file from the working directory when one exists.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// Default returns the built-in configuration from the embedded default.yaml.
func Default() (*Config, error) {
	return parse(DefaultConfigYAML)
}

// Load builds a Config by layering defaults, the optional YAML file at path,
// and ANNOTRACK_ environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		GitHub: GitHub{
			Branch:         "main",
			APIBase:        "https://api.github.com",
			RawBase:        "https://raw.githubusercontent.com",
			WebBase:        "https://github.com",
			TokenEnv:       "GITHUB_TOKEN",
			RequestTimeout: 20 * time.Second,
			ReportsDir:     "reports",
			AnnotatorsDir:  "annotators",
		},
		Repository: Repository{Branch: "main", SparsePath: "reports"},
		Webhook:    Webhook{SecretEnv: "GITHUB_WEBHOOK_SECRET", MaxBodyBytes: 1 << 20},
		Database:   Database{Driver: "sqlite", DSNEnv: "DATABASE_URL"},
		Sheets: Sheets{
			CredentialsEnv: "GOOGLE_CREDS_B64",
			ChunkSize:      500,
			ChunkPause:     time.Second,
		},
		Sync:    Sync{Workers: 4, CompletionTarget: 600, WatchDebounce: 2 * time.Second, Timeout: 10 * time.Minute},
		Server:  Server{Host: "127.0.0.1", Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, errors.New("sync.workers must be at least 1"))
	}
	if c.Sheets.ChunkSize < 1 {
		errs = append(errs, errors.New("sheets.chunk_size must be at least 1"))
	}
	if c.Webhook.MaxBodyBytes < 1 {
		errs = append(errs, errors.New("webhook.max_body_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// GetDataDir returns the directory holding the sqlite database.
func (c *Config) GetDataDir() string {
	if c.Database.Path != "" {
		return filepath.Dir(c.Database.Path)
	}
	return DataDir()
}

// DatabasePath returns the sqlite file path from config or the XDG default.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(DataDir(), "annotrack.db")
}

// RepositoryPath returns the local clone directory.
func (c *Config) RepositoryPath() string {
	if c.Repository.Path != "" {
		return c.Repository.Path
	}
	return filepath.Join(DataDir(), "repo")
}

// RepositoryURL returns the clone URL, derived from the GitHub section when unset.
func (c *Config) RepositoryURL() string {
	if c.Repository.URL != "" {
		return c.Repository.URL
	}
	return fmt.Sprintf("%s/%s/%s.git", strings.TrimRight(c.GitHub.WebBase, "/"), c.GitHub.Owner, c.GitHub.Repo)
}

// Token returns the GitHub API token, empty when unset.
func (c *Config) Token() string { return os.Getenv(c.GitHub.TokenEnv) }

// WebhookSecret returns the shared HMAC secret, empty when unset.
func (c *Config) WebhookSecret() string { return os.Getenv(c.Webhook.SecretEnv) }

// DSN returns the Postgres connection string.
func (c *Config) DSN() string { return os.Getenv(c.Database.DSNEnv) }

// SheetsCredentials decodes the base64 service-account JSON. It returns
// nil, nil when the variable is unset.
func (c *Config) SheetsCredentials() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(c.Sheets.CredentialsEnv))
	if raw == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", c.Sheets.CredentialsEnv, err)
	}
	return data, nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
