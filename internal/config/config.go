package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/kv"
)

// FileName is read from the home directory when present.
const FileName = "sparks.yaml"

// RollbackRetry mirrors the sync rollback retry policy.
type RollbackRetry struct {
	DelayInHours     float64 `yaml:"delayInHours"`
	MaxRetryAttempts int     `yaml:"maxRetryAttempts"`
}

// Config holds the settings of the sparks CLI.
// Values come from defaults, then sparks.yaml, then the environment, then flags.
type Config struct {
	HomeDir       string `yaml:"-"`
	ServerURL     string `yaml:"serverUrl"`
	DeploymentKey string `yaml:"deploymentKey"`

	AppVersion         string `yaml:"appVersion"`
	BinaryModifiedTime int64  `yaml:"binaryModifiedTime"`
	BinaryPackageHash  string `yaml:"binaryPackageHash"`
	BundleName         string `yaml:"bundleName"`
	AssetsPrefix       string `yaml:"assetsPrefix"`
	PublicKey          string `yaml:"publicKey"`

	DebugMode         bool   `yaml:"debugMode"`
	TestConfiguration bool   `yaml:"testConfiguration"`
	StoreBackend      string `yaml:"storeBackend"`

	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`

	// HostCommand is the application started by `sparks run`.
	HostCommand   []string      `yaml:"hostCommand"`
	RollbackRetry RollbackRetry `yaml:"rollbackRetry"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		HomeDir:      filepath.Join(home, ".sparks"),
		ServerURL:    "https://sparks.spicysparks.com/",
		BundleName:   "index.android.bundle",
		AssetsPrefix: "assets://",
		StoreBackend: kv.BackendFile,
		LogLevel:     "info",
		LogFile:      "console",
		RollbackRetry: RollbackRetry{
			DelayInHours:     24,
			MaxRetryAttempts: 1,
		},
	}
}

// Load returns the defaults merged with <home>/sparks.yaml and the SPARKS_*
// environment. SPARKS_HOME is resolved first since it locates the file.
func Load() (Config, error) {
	cfg := Defaults()
	if v := os.Getenv("SPARKS_HOME"); v != "" {
		cfg.HomeDir = v
	}
	if err := cfg.mergeFile(filepath.Join(cfg.HomeDir, FileName)); err != nil {
		return cfg, err
	}
	if err := cfg.mergeEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return bundle.InvalidConfiguration("load config", fmt.Errorf("parse %s: %w", path, err))
	}
	return nil
}

func (c *Config) mergeEnv() error {
	if v := os.Getenv("SPARKS_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("SPARKS_DEPLOYMENT_KEY"); v != "" {
		c.DeploymentKey = v
	}
	if v := os.Getenv("SPARKS_APP_VERSION"); v != "" {
		c.AppVersion = v
	}
	if v := os.Getenv("SPARKS_BINARY_MODIFIED_TIME"); v != "" {
		t, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return bundle.InvalidConfiguration("load config", fmt.Errorf("SPARKS_BINARY_MODIFIED_TIME: %w", err))
		}
		c.BinaryModifiedTime = t
	}
	return nil
}

// Validate checks the fields every command needs. Remote commands also
// need a server and a deployment key.
func (c Config) Validate(remote bool) error {
	if c.HomeDir == "" {
		return bundle.InvalidConfiguration("validate config", errors.New("home directory is required"))
	}
	if c.AppVersion == "" {
		return bundle.InvalidConfiguration("validate config", errors.New("app version is required"))
	}
	switch c.StoreBackend {
	case "", kv.BackendFile, kv.BackendSQLite:
	default:
		return bundle.InvalidConfiguration("validate config", fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	if !remote {
		return nil
	}
	if c.ServerURL == "" {
		return bundle.InvalidConfiguration("validate config", errors.New("server url is required"))
	}
	if c.DeploymentKey == "" {
		return bundle.InvalidConfiguration("validate config", errors.New("deployment key is required"))
	}
	return nil
}
