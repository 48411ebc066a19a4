// Package config builds the server and CLI configuration.
//
// LAYERS (highest precedence last):
//
//  1. Built-in defaults (Default()).
//  2. An optional .env file next to the YAML file (or in the working
//     directory). Its values become environment variables.
//  3. An optional YAML file.
//  4. Environment variables prefixed STALLCODE_, where "__" separates
//     sections: STALLCODE_STORE__DSN → store.dsn.
//
// The merged tree is unmarshalled into Config and validated with
// go-playground/validator. An invalid config is an error; nothing starts
// half-configured.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "STALLCODE_"

// HTTP holds web-server tunables.
type HTTP struct {
	Port         int           `koanf:"port"          validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout"  validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"  validate:"gt=0"`
	CookieSecure bool          `koanf:"cookie_secure"`
}

// Addr is the listen address.
func (h HTTP) Addr() string { return fmt.Sprintf(":%d", h.Port) }

// Store selects the code store.
type Store struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn"    validate:"required"`
}

// Device configures anonymous device identity.
type Device struct {
	Secret     string `koanf:"secret"      validate:"required,min=16"`
	CookieName string `koanf:"cookie_name" validate:"required"`
	StateDir   string `koanf:"state_dir"`
}

// Nearby holds query radii in metres.
type Nearby struct {
	DefaultRadius float64 `koanf:"default_radius" validate:"gt=0,ltefield=MaxRadius"`
	MaxRadius     float64 `koanf:"max_radius"     validate:"gt=0"`
}

// Duplicate configures the duplicate guard.
type Duplicate struct {
	Policy string `koanf:"policy" validate:"oneof=advisory strict"`
}

// Location configures the map centre fallback chain.
type Location struct {
	FallbackLat float64 `koanf:"fallback_lat" validate:"latitude"`
	FallbackLon float64 `koanf:"fallback_lon" validate:"longitude"`
	GeoIPDB     string  `koanf:"geoip_db"`
}

// Log configures internal/logging.
type Log struct {
	Level  string `koanf:"level"  validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
	File   string `koanf:"file"`
}

// Config is the aggregate returned by Load.
type Config struct {
	HTTP      HTTP      `koanf:"http"`
	Store     Store     `koanf:"store"`
	Device    Device    `koanf:"device"`
	Nearby    Nearby    `koanf:"nearby"`
	Duplicate Duplicate `koanf:"duplicate"`
	Location  Location  `koanf:"location"`
	Log       Log       `koanf:"log"`
}

// Default returns the built-in configuration. Device.Secret is left empty
// and must be supplied.
func Default() Config {
	return Config{
		HTTP: HTTP{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: Store{
			Driver: "sqlite",
			DSN:    "data/stallcode.db",
		},
		Device: Device{
			CookieName: "stallcode_device",
			StateDir:   defaultStateDir(),
		},
		Nearby: Nearby{
			DefaultRadius: 1000,
			MaxRadius:     10000,
		},
		Duplicate: Duplicate{Policy: "advisory"},
		Location: Location{
			FallbackLat: 37.7749,
			FallbackLon: -122.4194,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "stallcode")
	}
	return ".stallcode"
}

var validate = validator.New()

// Load builds a Config. path names an optional YAML file; "" skips it,
// and so does a path that does not exist.
func Load(path string) (*Config, error) {
	envDir := "."
	if path != "" {
		envDir = filepath.Dir(path)
	}
	// .env is optional; values already in the environment win.
	_ = godotenv.Load(filepath.Join(envDir, ".env"))

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	// STALLCODE_HTTP__PORT → http.port
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", "."))
	}), nil); err != nil {
		return nil, fmt.Errorf("config: env overlay: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section. The error names the offending keys.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}
