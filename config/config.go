package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"salescast/ml"
)

type Config struct {
	HTTP struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	ML struct {
		Variant       string `yaml:"variant"`
		ReferenceYear int    `yaml:"reference_year"`
		ModelPath     string `yaml:"model_path"`
		WatchModel    bool   `yaml:"watch_model"`
		Dataset       struct {
			Path  string `yaml:"path"`
			Sheet string `yaml:"sheet"`
		} `yaml:"dataset"`
	} `yaml:"ml"`
	Cache struct {
		Backend   string        `yaml:"backend"`
		Size      int           `yaml:"size"`
		RedisAddr string        `yaml:"redis_addr"`
		Prefix    string        `yaml:"prefix"`
		TTL       time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Auth struct {
		Enabled       bool          `yaml:"enabled"`
		SessionSecret string        `yaml:"session_secret"`
		SessionTTL    time.Duration `yaml:"session_ttl"`
		SecureCookie  bool          `yaml:"secure_cookie"`
		BcryptCost    int           `yaml:"bcrypt_cost"`
	} `yaml:"auth"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	var c Config
	c.HTTP.Port = 8080
	c.HTTP.ReadTimeout = 10 * time.Second
	c.HTTP.WriteTimeout = 15 * time.Second
	c.HTTP.RequestTimeout = 10 * time.Second
	c.HTTP.ShutdownTimeout = 10 * time.Second
	c.Database.Driver = "sqlite3"
	c.Database.DSN = "salescast.db"
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 28
	c.ML.Variant = string(ml.VariantOutletAge)
	c.ML.ReferenceYear = ml.DefaultReferenceYear
	c.ML.ModelPath = "models/model.json"
	c.ML.Dataset.Path = "data/blinkit_grocery_data.csv"
	c.Cache.Backend = "lru"
	c.Cache.Size = 4096
	c.Cache.TTL = time.Hour
	c.Auth.SessionTTL = 24 * time.Hour
	return &c
}

// ResolvePath looks for name in the working directory first, then one level up.
func ResolvePath(name string) string {
	if _, err := os.Stat(name); os.IsNotExist(err) && !filepath.IsAbs(name) {
		parent := filepath.Join("..", name)
		if _, err := os.Stat(parent); err == nil {
			return parent
		}
	}
	return name
}

// Load decodes the YAML file over Default, applies SALESCAST_* environment overrides and validates.
// Relative file paths in the config are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	config.resolvePaths(filepath.Dir(path))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SALESCAST_HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SALESCAST_HTTP_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	if v, ok := lookup("SALESCAST_DATABASE_DSN"); ok {
		c.Database.DSN = v
	}
	if v, ok := lookup("SALESCAST_SESSION_SECRET"); ok {
		c.Auth.SessionSecret = v
	}
	if v, ok := lookup("SALESCAST_REDIS_ADDR"); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup("SALESCAST_MODEL_PATH"); ok {
		c.ML.ModelPath = v
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	if base == "" || base == "." {
		return
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.ML.ModelPath = resolve(c.ML.ModelPath)
	c.ML.Dataset.Path = resolve(c.ML.Dataset.Path)
	c.Log.File = resolve(c.Log.File)
	if c.Database.Driver == "sqlite3" && !strings.HasPrefix(c.Database.DSN, "file:") && c.Database.DSN != ":memory:" {
		c.Database.DSN = resolve(c.Database.DSN)
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d is out of range", c.HTTP.Port))
	}
	if _, err := ml.ParseVariant(c.ML.Variant); err != nil {
		errs = append(errs, fmt.Errorf("ml.variant: %w", err))
	}
	if c.ML.ReferenceYear <= 0 {
		errs = append(errs, errors.New("ml.reference_year must be positive"))
	}
	if c.ML.Dataset.Path == "" {
		errs = append(errs, errors.New("ml.dataset.path is required"))
	}
	switch c.Cache.Backend {
	case "", "none", "lru":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of none, lru, redis", c.Cache.Backend))
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of sqlite3, postgres", c.Database.Driver))
	}
	if c.Auth.Enabled && len(c.Auth.SessionSecret) < 16 {
		errs = append(errs, errors.New("auth.session_secret must be at least 16 characters when auth is enabled"))
	}
	return errors.Join(errs...)
}
