// Package config loads the authflows command configuration from defaults,
// an optional YAML file and AUTH_ prefixed environment variables.
package config

import (
	"os"
	"strings"

	auth "github.com/goliatone/go-auth-flows"
	flowsgate "github.com/goliatone/go-auth-flows/adapters/featuregate"
	"github.com/goliatone/go-auth-flows/internal/database"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "AUTH_"

type Config struct {
	Server   Server             `koanf:"server"`
	Database Database           `koanf:"database"`
	Mail     Mail               `koanf:"mail"`
	Captcha  auth.CaptchaConfig `koanf:"captcha"`
	Auth     auth.Config        `koanf:"auth"`
	Log      Log                `koanf:"log"`
	// Features toggles gated flows such as users.signup
	Features []flowsgate.Rule `koanf:"features"`
}

type Server struct {
	Address string `koanf:"address"`
	Debug   bool   `koanf:"debug"`
	// Views is an optional directory whose templates override the embedded pages
	Views string `koanf:"views"`
	// TrustedProxies lists the proxy addresses or CIDRs whose ProxyHeader is
	// believed. Empty means the peer address is always used.
	TrustedProxies []string `koanf:"trusted_proxies"`
	ProxyHeader    string   `koanf:"proxy_header"`
}

// Database feeds both the persistence client and the plain opener
type Database = database.Settings

type Mail struct {
	// Driver is smtp or log
	Driver string          `koanf:"driver"`
	SMTP   auth.SMTPConfig `koanf:"smtp"`
	// Templates is an optional directory overriding the embedded emails
	Templates string `koanf:"templates"`
}

type Log struct {
	Level string `koanf:"level"`
}

var defaults = map[string]any{
	"server.address":        ":8572",
	"database.dsn":          "file:authflows.db?cache=shared",
	"database.ping_timeout": "5s",
	"mail.driver":           "log",
	"mail.smtp.port":        587,
	"mail.smtp.tls":         "mandatory",
	"log.level":             "info",
	"auth.base_url":         "http://localhost:8572",
	"auth.token_max_age":    "1h",
}

// Load reads .env, then defaults, then path when it exists, then the
// environment. AUTH_DATABASE__DSN maps to database.dsn.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set config default")
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load config file").
					WithMetadata(map[string]any{"path": path})
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load environment")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config")
	}

	cfg.Auth = cfg.Auth.WithDefaults()
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks what every command needs
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return goerrors.New("database dsn is required", goerrors.CategoryValidation).
			WithTextCode("CONFIG_INVALID")
	}
	return c.Auth.Validate()
}
