package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Accounts    AccountsConfig
	Redis       RedisConfig
	NATS        NATSConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Provider    ProviderConfig
	Storage     StorageConfig
	Quota       QuotaConfig
	History     HistoryConfig
	Materialize MaterializeConfig
	Outpaint    OutpaintConfig
	Poll        PollConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// PublicURL is the externally reachable base URL, used to build blob links.
	PublicURL string
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// AccountsConfig selects where accounts live. The file backend needs no
// database and disables the activity log.
type AccountsConfig struct {
	Backend string // "postgres" or "file"
	File    string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables generation events.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// ProviderConfig selects and configures the remote generation provider.
type ProviderConfig struct {
	Kind               string // "http" or "openai"
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	Models             []string
	MaxReferenceImages int
	SyncResultTTL      time.Duration
}

// StorageConfig configures blob storage. An empty Dir falls back to inline data URLs.
type StorageConfig struct {
	Dir       string
	PublicURL string
}

type QuotaConfig struct {
	GuestBackend    string // "memory" or "redis"
	GuestTrialLimit int
	GuestWindow     time.Duration
	SignupCredits   int
	GenerateRateMax int
	GenerateRateSec int
}

type HistoryConfig struct {
	Limit int
	// GuestTTL expires an idle guest's history. Account history is kept.
	GuestTTL time.Duration
}

type MaterializeConfig struct {
	FetchTimeout time.Duration
	Concurrency  int
}

// OutpaintConfig bounds the images accepted for canvas expansion.
type OutpaintConfig struct {
	MaxCanvasSide int
	MaxSourceSide int
}

// PollConfig covers server-side task bookkeeping. The polling cadence
// belongs to the client.
type PollConfig struct {
	TaskTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:      k.String("server.host"),
			Port:      k.Int("server.port"),
			PublicURL: k.String("server.public.url"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Accounts: AccountsConfig{
			Backend: k.String("accounts.backend"),
			File:    k.String("accounts.file"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret:  k.String("jwt.access.secret"),
			RefreshSecret: k.String("jwt.refresh.secret"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		Provider: ProviderConfig{
			Kind:               k.String("provider.kind"),
			BaseURL:            k.String("provider.base.url"),
			APIKey:             k.String("provider.api.key"),
			Models:             splitList(k.String("provider.models")),
			MaxReferenceImages: k.Int("provider.max.reference.images"),
		},
		Storage: StorageConfig{
			Dir:       k.String("storage.dir"),
			PublicURL: k.String("storage.public.url"),
		},
		Quota: QuotaConfig{
			GuestBackend:    k.String("quota.guest.backend"),
			GuestTrialLimit: k.Int("quota.guest.trial.limit"),
			SignupCredits:   k.Int("quota.signup.credits"),
			GenerateRateMax: k.Int("quota.generate.rate.max"),
			GenerateRateSec: k.Int("quota.generate.rate.sec"),
		},
		History: HistoryConfig{
			Limit: k.Int("history.limit"),
		},
		Materialize: MaterializeConfig{
			Concurrency: k.Int("materialize.concurrency"),
		},
		Outpaint: OutpaintConfig{
			MaxCanvasSide: k.Int("outpaint.max.canvas.side"),
			MaxSourceSide: k.Int("outpaint.max.source.side"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "genstudio"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "genstudio"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Accounts.Backend == "" {
		cfg.Accounts.Backend = "postgres"
	}
	if cfg.Accounts.File == "" {
		cfg.Accounts.File = "data/accounts.json"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = "http"
	}
	if len(cfg.Provider.Models) == 0 {
		cfg.Provider.Models = []string{"demo-model"}
	}
	if cfg.Provider.MaxReferenceImages == 0 {
		cfg.Provider.MaxReferenceImages = 4
	}
	if cfg.Storage.PublicURL == "" {
		cfg.Storage.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/") + "/files"
	}
	if cfg.Quota.GuestBackend == "" {
		cfg.Quota.GuestBackend = "redis"
	}
	if cfg.Quota.GuestTrialLimit == 0 {
		cfg.Quota.GuestTrialLimit = 3
	}
	if cfg.Quota.SignupCredits == 0 {
		cfg.Quota.SignupCredits = 10
	}
	if cfg.Quota.GenerateRateMax == 0 {
		cfg.Quota.GenerateRateMax = 20
	}
	if cfg.Quota.GenerateRateSec == 0 {
		cfg.Quota.GenerateRateSec = 60
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = 100
	}
	if cfg.Materialize.Concurrency == 0 {
		cfg.Materialize.Concurrency = 4
	}
	if cfg.Outpaint.MaxCanvasSide == 0 {
		cfg.Outpaint.MaxCanvasSide = 4096
	}
	if cfg.Outpaint.MaxSourceSide == 0 {
		cfg.Outpaint.MaxSourceSide = 8192
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"jwt.access.expiry", "15m", &cfg.JWT.AccessExpiry},
		{"jwt.refresh.expiry", "168h", &cfg.JWT.RefreshExpiry},
		{"provider.timeout", "60s", &cfg.Provider.Timeout},
		{"provider.sync.result.ttl", "1h", &cfg.Provider.SyncResultTTL},
		{"quota.guest.window", "24h", &cfg.Quota.GuestWindow},
		{"history.guest.ttl", "168h", &cfg.History.GuestTTL},
		{"materialize.fetch.timeout", "30s", &cfg.Materialize.FetchTimeout},
		{"poll.task.ttl", "24h", &cfg.Poll.TaskTTL},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		*d.dest, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
