package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var OutputModes = []string{"json", "plain", "yaml", "table"}

type GlobalFlags struct {
	ConfigPath     string
	Spec           string
	BaseURL        string
	JSON           bool
	Plain          bool
	Output         string
	Select         string
	ResultsOnly    bool
	JSONPath       string
	EnableCommands string
	Timeout        string
	Retries        int
	NoCache        bool
	CacheTTL       string
	IncludePaths   []string
	ExcludePaths   []string
	Headers        []string
	LogLevel       string
	Insecure       bool
}

type Settings struct {
	Spec           string
	BaseURL        string
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	JSONPath       string
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	VerifySSL      bool
	Headers        map[string]string
	LogLevel       string
	CacheEnabled   bool
	CacheBackend   string
	CacheTTL       time.Duration
	SpecTTL        time.Duration
	CacheMaxSize   int
	CachePath      string
	CacheLockPath  string
	IncludePaths   []string
	ExcludePaths   []string
	Auth           AuthSettings
	Plugins        PluginSettings
}

type AuthSettings struct {
	Type         string
	Token        string
	Username     string
	Password     string
	APIKey       string
	APIKeyHeader string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Tenant       string
	AuthURL      string
	RedirectURL  string
	Scopes       []string
	JWT          JWTSettings
	AWS          AWSSettings
}

type JWTSettings struct {
	Secret    string
	Algorithm string
	Issuer    string
	Audience  string
	Subject   string
	TTL       time.Duration
}

type AWSSettings struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	Service      string
}

type PluginSettings struct {
	RequestLogger struct {
		Enabled bool
		Path    string
	}
	RateLimiter struct {
		Enabled bool
		RPS     float64
		Burst   int
	}
	FileUpload struct {
		Enabled bool
	}
	Validator struct {
		Enabled   bool
		SchemaDir string
	}
}

type fileConfig struct {
	Spec      string            `yaml:"spec"`
	BaseURL   string            `yaml:"base_url"`
	Output    string            `yaml:"output"`
	Timeout   string            `yaml:"timeout"`
	Retries   *int              `yaml:"retries"`
	VerifySSL *bool             `yaml:"verify_ssl"`
	LogLevel  string            `yaml:"log_level"`
	Headers   map[string]string `yaml:"headers"`
	Cache     struct {
		Enabled  *bool  `yaml:"enabled"`
		Backend  string `yaml:"backend"`
		TTL      string `yaml:"ttl"`
		SpecTTL  string `yaml:"spec_ttl"`
		MaxSize  *int   `yaml:"max_size"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Paths struct {
		Include []string `yaml:"include"`
		Exclude []string `yaml:"exclude"`
	} `yaml:"paths"`
	Auth struct {
		Type            string   `yaml:"type"`
		Token           string   `yaml:"token"`
		TokenEnv        string   `yaml:"token_env"`
		Username        string   `yaml:"username"`
		Password        string   `yaml:"password"`
		PasswordEnv     string   `yaml:"password_env"`
		APIKey          string   `yaml:"api_key"`
		APIKeyEnv       string   `yaml:"api_key_env"`
		APIKeyHeader    string   `yaml:"api_key_header"`
		ClientID        string   `yaml:"client_id"`
		ClientSecret    string   `yaml:"client_secret"`
		ClientSecretEnv string   `yaml:"client_secret_env"`
		TokenURL        string   `yaml:"token_url"`
		Tenant          string   `yaml:"tenant"`
		AuthURL         string   `yaml:"auth_url"`
		RedirectURL     string   `yaml:"redirect_url"`
		Scopes          []string `yaml:"scopes"`
		JWT             struct {
			Secret    string `yaml:"secret"`
			SecretEnv string `yaml:"secret_env"`
			Algorithm string `yaml:"algorithm"`
			Issuer    string `yaml:"issuer"`
			Audience  string `yaml:"audience"`
			Subject   string `yaml:"subject"`
			TTL       string `yaml:"ttl"`
		} `yaml:"jwt"`
		AWS struct {
			AccessKey    string `yaml:"access_key"`
			SecretKey    string `yaml:"secret_key"`
			SecretKeyEnv string `yaml:"secret_key_env"`
			SessionToken string `yaml:"session_token"`
			Region       string `yaml:"region"`
			Service      string `yaml:"service"`
		} `yaml:"aws"`
	} `yaml:"auth"`
	Plugins struct {
		RequestLogger struct {
			Enabled bool   `yaml:"enabled"`
			Path    string `yaml:"path"`
		} `yaml:"request_logger"`
		RateLimiter struct {
			Enabled bool    `yaml:"enabled"`
			RPS     float64 `yaml:"rps"`
			Burst   int     `yaml:"burst"`
		} `yaml:"rate_limiter"`
		FileUpload struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"file_upload"`
		Validator struct {
			Enabled   bool   `yaml:"enabled"`
			SchemaDir string `yaml:"schema_dir"`
		} `yaml:"validator"`
	} `yaml:"plugins"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	settings.Plugins.Validator.SchemaDir = filepath.Join(filepath.Dir(cfgPath), "schemas")
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
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 1 {
		settings.Retries = 1
	}
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = 300 * time.Second
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	settings := Settings{
		OutputMode:    "json",
		Timeout:       30 * time.Second,
		Retries:       3,
		VerifySSL:     true,
		Headers:       map[string]string{},
		LogLevel:      "warn",
		CacheEnabled:  true,
		CacheBackend:  "sqlite",
		CacheTTL:      300 * time.Second,
		SpecTTL:       time.Hour,
		CacheMaxSize:  1000,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
	}
	settings.Auth.APIKeyHeader = "X-API-Key"
	settings.Auth.JWT.Algorithm = "HS256"
	settings.Auth.JWT.TTL = time.Hour
	settings.Auth.AWS.Service = "execute-api"
	settings.Plugins.RequestLogger.Path = filepath.Join(filepath.Dir(cachePath), "requests.log")
	settings.Plugins.RateLimiter.RPS = 10
	settings.Plugins.RateLimiter.Burst = 1
	return settings, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	if v := os.Getenv("SWAGCLI_CONFIG"); v != "" {
		return v, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "swagcli", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "swagcli")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
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

	setString(&settings.Spec, cfg.Spec)
	setString(&settings.BaseURL, cfg.BaseURL)
	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if err := setDuration(&settings.Timeout, cfg.Timeout, "timeout"); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.VerifySSL != nil {
		settings.VerifySSL = *cfg.VerifySSL
	}
	setString(&settings.LogLevel, cfg.LogLevel)
	for k, v := range cfg.Headers {
		settings.Headers[k] = v
	}

	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	setString(&settings.CacheBackend, strings.ToLower(cfg.Cache.Backend))
	if err := setDuration(&settings.CacheTTL, cfg.Cache.TTL, "cache.ttl"); err != nil {
		return err
	}
	if err := setDuration(&settings.SpecTTL, cfg.Cache.SpecTTL, "cache.spec_ttl"); err != nil {
		return err
	}
	if cfg.Cache.MaxSize != nil {
		settings.CacheMaxSize = *cfg.Cache.MaxSize
	}
	setString(&settings.CachePath, cfg.Cache.Path)
	setString(&settings.CacheLockPath, cfg.Cache.LockPath)

	settings.IncludePaths = append(settings.IncludePaths, cfg.Paths.Include...)
	settings.ExcludePaths = append(settings.ExcludePaths, cfg.Paths.Exclude...)

	a := cfg.Auth
	auth := &settings.Auth
	setString(&auth.Type, strings.ToLower(a.Type))
	setSecret(&auth.Token, a.Token, a.TokenEnv)
	setString(&auth.Username, a.Username)
	setSecret(&auth.Password, a.Password, a.PasswordEnv)
	setSecret(&auth.APIKey, a.APIKey, a.APIKeyEnv)
	setString(&auth.APIKeyHeader, a.APIKeyHeader)
	setString(&auth.ClientID, a.ClientID)
	setSecret(&auth.ClientSecret, a.ClientSecret, a.ClientSecretEnv)
	setString(&auth.TokenURL, a.TokenURL)
	setString(&auth.Tenant, a.Tenant)
	setString(&auth.AuthURL, a.AuthURL)
	setString(&auth.RedirectURL, a.RedirectURL)
	if len(a.Scopes) > 0 {
		auth.Scopes = a.Scopes
	}
	setSecret(&auth.JWT.Secret, a.JWT.Secret, a.JWT.SecretEnv)
	setString(&auth.JWT.Algorithm, strings.ToUpper(a.JWT.Algorithm))
	setString(&auth.JWT.Issuer, a.JWT.Issuer)
	setString(&auth.JWT.Audience, a.JWT.Audience)
	setString(&auth.JWT.Subject, a.JWT.Subject)
	if err := setDuration(&auth.JWT.TTL, a.JWT.TTL, "auth.jwt.ttl"); err != nil {
		return err
	}
	setString(&auth.AWS.AccessKey, a.AWS.AccessKey)
	setSecret(&auth.AWS.SecretKey, a.AWS.SecretKey, a.AWS.SecretKeyEnv)
	setString(&auth.AWS.SessionToken, a.AWS.SessionToken)
	setString(&auth.AWS.Region, a.AWS.Region)
	setString(&auth.AWS.Service, a.AWS.Service)

	p := cfg.Plugins
	settings.Plugins.RequestLogger.Enabled = p.RequestLogger.Enabled
	setString(&settings.Plugins.RequestLogger.Path, p.RequestLogger.Path)
	settings.Plugins.RateLimiter.Enabled = p.RateLimiter.Enabled
	if p.RateLimiter.RPS > 0 {
		settings.Plugins.RateLimiter.RPS = p.RateLimiter.RPS
	}
	if p.RateLimiter.Burst > 0 {
		settings.Plugins.RateLimiter.Burst = p.RateLimiter.Burst
	}
	settings.Plugins.FileUpload.Enabled = p.FileUpload.Enabled
	settings.Plugins.Validator.Enabled = p.Validator.Enabled
	setString(&settings.Plugins.Validator.SchemaDir, p.Validator.SchemaDir)

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SWAGCLI_SPEC"); v != "" {
		settings.Spec = v
	}
	if v := os.Getenv("SWAGCLI_BASE_URL"); v != "" {
		settings.BaseURL = v
	}
	if v := os.Getenv("SWAGCLI_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SWAGCLI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SWAGCLI_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SWAGCLI_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("SWAGCLI_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.CacheTTL = d
		}
	}
	if v := os.Getenv("SWAGCLI_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("SWAGCLI_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("SWAGCLI_TOKEN"); v != "" {
		settings.Auth.Token = v
		if settings.Auth.Type == "" {
			settings.Auth.Type = "bearer"
		}
	}
	if v := os.Getenv("SWAGCLI_API_KEY"); v != "" {
		settings.Auth.APIKey = v
		if settings.Auth.Type == "" {
			settings.Auth.Type = "api_key"
		}
	}
	if v := os.Getenv("SWAGCLI_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.Output != "" {
		settings.OutputMode = strings.ToLower(flags.Output)
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	setString(&settings.Spec, flags.Spec)
	setString(&settings.BaseURL, flags.BaseURL)
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	settings.JSONPath = strings.TrimSpace(flags.JSONPath)
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.CacheTTL != "" {
		d, err := time.ParseDuration(flags.CacheTTL)
		if err != nil {
			return fmt.Errorf("parse --cache-ttl: %w", err)
		}
		settings.CacheTTL = d
	}
	settings.IncludePaths = append(settings.IncludePaths, flags.IncludePaths...)
	settings.ExcludePaths = append(settings.ExcludePaths, flags.ExcludePaths...)
	for _, h := range flags.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("parse --header %q: expected Name: value", h)
		}
		settings.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	setString(&settings.LogLevel, strings.ToLower(flags.LogLevel))
	if flags.Insecure {
		settings.VerifySSL = false
	}

	if !validOutput(settings.OutputMode) {
		return fmt.Errorf("output must be one of %s", strings.Join(OutputModes, ", "))
	}
	if settings.CacheBackend != "sqlite" && settings.CacheBackend != "memory" {
		return fmt.Errorf("cache backend must be sqlite or memory")
	}

	return nil
}

func validOutput(mode string) bool {
	for _, m := range OutputModes {
		if m == mode {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setSecret(dst *string, value, env string) {
	if value != "" {
		*dst = value
	}
	if env != "" {
		*dst = os.Getenv(env)
	}
}

func setDuration(dst *time.Duration, v, key string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config %s: %w", key, err)
	}
	*dst = d
	return nil
}
