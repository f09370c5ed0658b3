package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ContentIngestor/internal/authenticity"
	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ratelimit"
)

const (
	configPathEnv     = "CONTENT_INGESTOR_CONFIG"
	databasePathEnv   = "DATABASE_PATH"
	statePathEnv      = "STATE_PATH"
	logLevelEnv       = "LOG_LEVEL"
	minScoreEnv       = "MIN_AUTHENTICITY_SCORE"
	embeddingKeyEnv   = "EMBEDDING_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	State         StateConfig        `yaml:"state"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	HTTP          HTTPConfig         `yaml:"http"`
	Ingestion     IngestionConfig    `yaml:"ingestion"`
	Retry         RetryConfig        `yaml:"retry"`
	RateLimits    RateLimitConfig    `yaml:"rateLimits"`
	Validator     ValidatorConfig    `yaml:"validator"`
	Indexing      IndexingConfig     `yaml:"indexing"`
	Notifications NotificationConfig `yaml:"notifications"`
	Subjects      []SubjectConfig    `yaml:"subjects"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig points at the SQLite content repository.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StateConfig locates the cursor store. An empty path keeps cursors in memory.
type StateConfig struct {
	Path        string `yaml:"path"`
	DedupWindow int    `yaml:"dedupWindow"`
}

// SchedulerConfig defines how often the watch command runs.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig tunes the outbound client shared by the fetchers.
type HTTPConfig struct {
	UserAgent    string        `yaml:"userAgent"`
	Timeout      time.Duration `yaml:"timeout"`
	RequestDelay time.Duration `yaml:"requestDelay"`
	ObeyRobots   bool          `yaml:"obeyRobots"`
}

// IngestionConfig holds run defaults.
type IngestionConfig struct {
	MaxItems      int           `yaml:"maxItems"`
	MaxPages      int           `yaml:"maxPages"`
	Workers       int           `yaml:"workers"`
	AuthenticOnly bool          `yaml:"authenticOnly"`
	MinScore      int           `yaml:"minScore"`
	RejectEmpty   bool          `yaml:"rejectEmpty"`
	CursorOverlap time.Duration `yaml:"cursorOverlap"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
}

// RateLimitConfig sizes the per-platform token buckets.
type RateLimitConfig struct {
	Default   ratelimit.BucketConfig            `yaml:"default"`
	Platforms map[string]ratelimit.BucketConfig `yaml:"platforms"`
}

// ValidatorConfig carries the default authenticity weights.
type ValidatorConfig struct {
	Weights authenticity.Weights `yaml:"weights"`
}

// IndexingConfig controls chunking and the embeddings endpoint. Embedding is off without a URL.
type IndexingConfig struct {
	ChunkSize      int    `yaml:"chunkSize"`
	ChunkOverlap   int    `yaml:"chunkOverlap"`
	EmbeddingURL   string `yaml:"embeddingUrl"`
	EmbeddingModel string `yaml:"embeddingModel"`
	APIKey         string `yaml:"apiKey"`
	BatchSize      int    `yaml:"batchSize"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// SubjectConfig describes one subject, its channels and its sources. A weights block replaces
// the whole default table for that subject.
type SubjectConfig struct {
	ID              string                `yaml:"id"`
	Name            string                `yaml:"name"`
	OfficialDomains []string              `yaml:"officialDomains"`
	Accounts        map[string][]string   `yaml:"accounts"`
	Sources         []SourceConfig        `yaml:"sources"`
	Weights         *authenticity.Weights `yaml:"weights"`
}

// SourceConfig is one upstream endpoint; Options are fetcher specific (CSS selectors, pagination).
type SourceConfig struct {
	Platform string            `yaml:"platform"`
	Name     string            `yaml:"name"`
	URL      string            `yaml:"url"`
	Options  map[string]string `yaml:"options"`
}

// Load reads the YAML file named by CONTENT_INGESTOR_CONFIG (if set) over the defaults
// and applies environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile is Load with an explicit path; an empty path means defaults plus environment.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if cfg, err = Parse(raw); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Keys absent from raw keep their default value.
func Parse(raw []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv(statePathEnv); v != "" {
		c.State.Path = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(minScoreEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", minScoreEnv, err)
		}
		c.Ingestion.MinScore = n
	}

	if v := os.Getenv(embeddingKeyEnv); v != "" {
		c.Indexing.APIKey = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	return nil
}

// Validate checks the values the application cannot start without.
func (c Config) Validate() error {
	if c.Ingestion.MinScore < 0 || c.Ingestion.MinScore > 100 {
		return fmt.Errorf("ingestion.minScore must be within [0,100], got %d", c.Ingestion.MinScore)
	}
	if err := c.Validator.Weights.Validate(); err != nil {
		return fmt.Errorf("validator.weights: %w", err)
	}
	if err := c.RateLimits.Default.Validate(); err != nil {
		return fmt.Errorf("rateLimits.default: %w", err)
	}
	for p, b := range c.RateLimits.Platforms {
		if !domain.Platform(p).Valid() {
			return fmt.Errorf("rateLimits.platforms: unknown platform %q", p)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("rateLimits.platforms.%s: %w", p, err)
		}
	}
	if _, err := c.DomainSubjects(); err != nil {
		return err
	}
	return nil
}

// DomainSubjects converts the subject section. Hosts of blog and book sources are added to the
// official domains.
func (c Config) DomainSubjects() ([]domain.Subject, error) {
	seen := map[string]bool{}
	out := make([]domain.Subject, 0, len(c.Subjects))

	for i, sc := range c.Subjects {
		id := strings.TrimSpace(sc.ID)
		if id == "" {
			return nil, fmt.Errorf("subjects[%d]: id is required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("subjects[%d]: duplicate id %q", i, id)
		}
		seen[id] = true

		subject := domain.Subject{
			ID:              id,
			Name:            sc.Name,
			OfficialDomains: slices.Clone(sc.OfficialDomains),
			Accounts:        map[domain.Platform][]string{},
		}
		for p, accounts := range sc.Accounts {
			platform := domain.Platform(strings.ToLower(p))
			if !platform.Valid() {
				return nil, fmt.Errorf("subject %s: unknown account platform %q", id, p)
			}
			subject.Accounts[platform] = slices.Clone(accounts)
		}

		for j, src := range sc.Sources {
			platform := domain.Platform(strings.ToLower(src.Platform))
			if !platform.Valid() {
				return nil, fmt.Errorf("subject %s: sources[%d]: unknown platform %q", id, j, src.Platform)
			}
			if strings.TrimSpace(src.URL) == "" {
				return nil, fmt.Errorf("subject %s: sources[%d]: url is required", id, j)
			}
			name := src.Name
			if name == "" {
				name = src.URL
			}
			subject.Sources = append(subject.Sources, domain.SourceEndpoint{
				Platform: platform,
				Name:     name,
				URL:      src.URL,
				Options:  src.Options,
			})

			if platform == domain.PlatformBlog || platform == domain.PlatformBook {
				if host := domain.HostOf(src.URL); host != "" && !slices.Contains(subject.OfficialDomains, host) {
					subject.OfficialDomains = append(subject.OfficialDomains, host)
				}
			}
		}

		if sc.Weights != nil {
			if err := sc.Weights.Validate(); err != nil {
				return nil, fmt.Errorf("subject %s: weights: %w", id, err)
			}
		}
		out = append(out, subject)
	}
	return out, nil
}

// SubjectWeights returns the per-subject weight overrides.
func (c Config) SubjectWeights() map[string]authenticity.Weights {
	out := map[string]authenticity.Weights{}
	for _, sc := range c.Subjects {
		if sc.Weights != nil {
			out[strings.TrimSpace(sc.ID)] = *sc.Weights
		}
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Logging:   LoggingConfig{Level: "info"},
		Database:  DatabaseConfig{Path: "data/content.db"},
		State:     StateConfig{Path: "data/state"},
		Scheduler: SchedulerConfig{Interval: 6 * time.Hour},
		HTTP: HTTPConfig{
			UserAgent:    "ContentIngestor/1.0",
			Timeout:      30 * time.Second,
			RequestDelay: 2 * time.Second,
			ObeyRobots:   true,
		},
		Ingestion: IngestionConfig{
			MaxPages:      100,
			Workers:       5,
			AuthenticOnly: true,
			MinScore:      75,
			RejectEmpty:   true,
			CursorOverlap: 48 * time.Hour,
		},
		Retry: RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		RateLimits: RateLimitConfig{
			// 10 calls per minute.
			Default: ratelimit.BucketConfig{Capacity: 10, RefillRate: 10.0 / 60},
		},
		Validator: ValidatorConfig{Weights: authenticity.DefaultWeights()},
		Indexing: IndexingConfig{
			ChunkSize:      1000,
			ChunkOverlap:   200,
			EmbeddingModel: "text-embedding-ada-002",
			BatchSize:      100,
		},
	}
}
