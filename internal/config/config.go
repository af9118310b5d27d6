package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDiscoveryURL   = "https://keycloak.blockapps.net/auth/realms/mercata/.well-known/openid-configuration"
	DefaultMarketplaceURL = "https://marketplace.mercata.blockapps.net"
	DefaultWeatherURL     = "https://api.weather.gov"
	DefaultTimeout        = 60 * time.Second
)

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
	Timeout     string
	LogLevel    string
	LogFormat   string
	EnableTools string
	MetricsAddr string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	Timeout        time.Duration
	LogLevel       string
	LogFormat      string
	EnableTools    []string
	MetricsAddr    string
	MarketplaceURL string
	WeatherURL     string
	DiscoveryURL   string
	Username       string
	Password       string
	ClientID       string
	ClientSecret   string
}

// Credentials are the service account and OAuth client used for every
// authenticated marketplace call.
type Credentials struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	DiscoveryURL string
}

type fileConfig struct {
	Output      string   `yaml:"output"`
	Timeout     string   `yaml:"timeout"`
	EnableTools []string `yaml:"enable_tools"`
	MetricsAddr string   `yaml:"metrics_addr"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Marketplace struct {
		URL string `yaml:"url"`
	} `yaml:"marketplace"`
	Weather struct {
		URL string `yaml:"url"`
	} `yaml:"weather"`
	Auth struct {
		DiscoveryURL    string `yaml:"discovery_url"`
		Username        string `yaml:"username"`
		UsernameEnv     string `yaml:"username_env"`
		Password        string `yaml:"password"`
		PasswordEnv     string `yaml:"password_env"`
		ClientID        string `yaml:"client_id"`
		ClientSecret    string `yaml:"client_secret"`
		ClientSecretEnv string `yaml:"client_secret_env"`
	} `yaml:"auth"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings := defaultSettings()

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	settings.MarketplaceURL = strings.TrimRight(settings.MarketplaceURL, "/")
	settings.WeatherURL = strings.TrimRight(settings.WeatherURL, "/")

	return settings, nil
}

func defaultSettings() Settings {
	return Settings{
		OutputMode:     "json",
		Timeout:        DefaultTimeout,
		LogLevel:       "info",
		LogFormat:      "text",
		MarketplaceURL: DefaultMarketplaceURL,
		WeatherURL:     DefaultWeatherURL,
		DiscoveryURL:   DefaultDiscoveryURL,
	}
}

// Credentials returns the account settings or a config error naming the
// first missing value. It is called on first authenticated use, not at load.
func (s Settings) Credentials() (Credentials, error) {
	required := []struct {
		name  string
		value string
	}{
		{"BA_USERNAME", s.Username},
		{"BA_PASSWORD", s.Password},
		{"CLIENT_ID", s.ClientID},
		{"CLIENT_SECRET", s.ClientSecret},
		{"OPENID_DISCOVERY_URL", s.DiscoveryURL},
	}
	for _, item := range required {
		if strings.TrimSpace(item.value) == "" {
			return Credentials{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("missing required setting %s", item.name))
		}
	}
	return Credentials{
		Username:     s.Username,
		Password:     s.Password,
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		DiscoveryURL: s.DiscoveryURL,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mercata-mcp", "config.yaml"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if len(cfg.EnableTools) > 0 {
		settings.EnableTools = cfg.EnableTools
	}
	if cfg.MetricsAddr != "" {
		settings.MetricsAddr = cfg.MetricsAddr
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Marketplace.URL != "" {
		settings.MarketplaceURL = cfg.Marketplace.URL
	}
	if cfg.Weather.URL != "" {
		settings.WeatherURL = cfg.Weather.URL
	}
	if cfg.Auth.DiscoveryURL != "" {
		settings.DiscoveryURL = cfg.Auth.DiscoveryURL
	}
	if cfg.Auth.Username != "" {
		settings.Username = cfg.Auth.Username
	}
	if cfg.Auth.UsernameEnv != "" {
		settings.Username = os.Getenv(cfg.Auth.UsernameEnv)
	}
	if cfg.Auth.Password != "" {
		settings.Password = cfg.Auth.Password
	}
	if cfg.Auth.PasswordEnv != "" {
		settings.Password = os.Getenv(cfg.Auth.PasswordEnv)
	}
	if cfg.Auth.ClientID != "" {
		settings.ClientID = cfg.Auth.ClientID
	}
	if cfg.Auth.ClientSecret != "" {
		settings.ClientSecret = cfg.Auth.ClientSecret
	}
	if cfg.Auth.ClientSecretEnv != "" {
		settings.ClientSecret = os.Getenv(cfg.Auth.ClientSecretEnv)
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("BA_USERNAME"); v != "" {
		settings.Username = v
	}
	if v := os.Getenv("BA_PASSWORD"); v != "" {
		settings.Password = v
	}
	if v := os.Getenv("CLIENT_ID"); v != "" {
		settings.ClientID = v
	}
	if v := os.Getenv("CLIENT_SECRET"); v != "" {
		settings.ClientSecret = v
	}
	if v := os.Getenv("OPENID_DISCOVERY_URL"); v != "" {
		settings.DiscoveryURL = v
	}
	if v := os.Getenv("MARKETPLACE_URL"); v != "" {
		settings.MarketplaceURL = v
	}
	if v := os.Getenv("MERCATA_WEATHER_URL"); v != "" {
		settings.WeatherURL = v
	}
	if v := os.Getenv("MERCATA_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("MERCATA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("MERCATA_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("MERCATA_LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("MERCATA_ENABLE_TOOLS"); v != "" {
		settings.EnableTools = splitList(v)
	}
	if v := os.Getenv("MERCATA_METRICS_ADDR"); v != "" {
		settings.MetricsAddr = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableTools) != "" {
		settings.EnableTools = splitList(flags.EnableTools)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.LogFormat != "" {
		settings.LogFormat = strings.ToLower(flags.LogFormat)
	}
	if flags.MetricsAddr != "" {
		settings.MetricsAddr = flags.MetricsAddr
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.LogFormat != "text" && settings.LogFormat != "json" {
		return fmt.Errorf("log format must be text or json")
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
