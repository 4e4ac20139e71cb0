package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/devblac/reward-tower/internal/scval"
	"github.com/joho/godotenv"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"gopkg.in/yaml.v3"
)

const futureNetworkPassphrase = "Test SDF Future Network ; October 2022"

// Config holds the YAML configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Global     GlobalConfig     `yaml:"global"`
	Network    NetworkConfig    `yaml:"network"`
	Contract   ContractConfig   `yaml:"contract"`
	Signers    SignersConfig    `yaml:"signers"`
	Poller     PollerConfig     `yaml:"poller"`
	Submission SubmissionConfig `yaml:"submission"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Notify     NotifyConfig     `yaml:"notify"`
}

type GlobalConfig struct {
	DBDriver      string `yaml:"db_driver"`
	DBPath        string `yaml:"db_path"`
	DBDSN         string `yaml:"db_dsn"`
	RunMigrations bool   `yaml:"run_migrations"`
}

type NetworkConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	Passphrase     string        `yaml:"passphrase"`
	RateLimit      float64       `yaml:"rate_limit"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type ContractConfig struct {
	ID                 string `yaml:"id"`
	DefaultRewardToken string `yaml:"default_reward_token"`
}

type SignersConfig struct {
	OperatorSecret string `yaml:"operator_secret"`
	UserSecret     string `yaml:"user_secret"`
}

type PollerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	StartLedger  uint32        `yaml:"start_ledger"`
	PageLimit    int           `yaml:"page_limit"`
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

type SubmissionConfig struct {
	TimeoutSeconds int64         `yaml:"timeout_seconds"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPolls       int           `yaml:"max_polls"`
}

type ScheduleConfig struct {
	ExpireCampaigns    string        `yaml:"expire_campaigns"`
	PruneProcessed     string        `yaml:"prune_processed"`
	ProcessedRetention time.Duration `yaml:"processed_retention"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks and fills defaults.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}

	switch strings.ToLower(c.Global.DBDriver) {
	case "", "sqlite":
		c.Global.DBDriver = "sqlite"
		if c.Global.DBPath == "" {
			c.Global.DBPath = "reward-tower.db"
		}
	case "postgres":
		c.Global.DBDriver = "postgres"
		if c.Global.DBDSN == "" {
			return errors.New("global.db_dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported global.db_driver: %s", c.Global.DBDriver)
	}

	if c.Network.RPCURL == "" {
		return errors.New("network.rpc_url is required")
	}
	if c.Network.RateLimit < 0 {
		return errors.New("network.rate_limit must not be negative")
	}
	if c.Network.RequestTimeout <= 0 {
		c.Network.RequestTimeout = 10 * time.Second
	}
	if c.Network.Passphrase == "" {
		c.Network.Passphrase = "testnet"
	}

	if !scval.IsContractAddress(c.Contract.ID) {
		return fmt.Errorf("contract.id %q is not a contract address", c.Contract.ID)
	}
	if c.Contract.DefaultRewardToken != "" && !scval.IsContractAddress(c.Contract.DefaultRewardToken) {
		return fmt.Errorf("contract.default_reward_token %q is not a contract address", c.Contract.DefaultRewardToken)
	}

	for name, secret := range map[string]string{
		"signers.operator_secret": c.Signers.OperatorSecret,
		"signers.user_secret":     c.Signers.UserSecret,
	} {
		if secret == "" {
			continue
		}
		if _, err := keypair.ParseFull(secret); err != nil {
			return fmt.Errorf("%s is not a valid secret seed", name)
		}
	}

	if c.Poller.Interval <= 0 {
		c.Poller.Interval = 5 * time.Second
	}
	if c.Poller.PageLimit <= 0 {
		c.Poller.PageLimit = 100
	}
	if c.Poller.PageLimit > 10000 {
		return errors.New("poller.page_limit must be at most 10000")
	}
	if c.Poller.DedupeWindow <= 0 {
		c.Poller.DedupeWindow = 24 * time.Hour
	}

	if c.Submission.TimeoutSeconds <= 0 {
		c.Submission.TimeoutSeconds = 30
	}
	if c.Submission.PollInterval <= 0 {
		c.Submission.PollInterval = 3 * time.Second
	}
	if c.Submission.MaxPolls <= 0 {
		c.Submission.MaxPolls = 20
	}

	if c.Schedule.ExpireCampaigns == "" {
		c.Schedule.ExpireCampaigns = "@every 1m"
	}
	if c.Schedule.PruneProcessed == "" {
		c.Schedule.PruneProcessed = "@hourly"
	}
	if c.Schedule.ProcessedRetention <= 0 {
		c.Schedule.ProcessedRetention = 7 * 24 * time.Hour
	}

	if c.Notify.WebhookURL != "" && !strings.HasPrefix(c.Notify.WebhookURL, "http") {
		return fmt.Errorf("notify.webhook_url %q must be an http(s) url", c.Notify.WebhookURL)
	}
	return nil
}

// NetworkPassphrase resolves the testnet/pubnet/futurenet aliases; any other
// value is used literally.
func (c *Config) NetworkPassphrase() string {
	switch strings.ToLower(c.Network.Passphrase) {
	case "", "testnet":
		return network.TestNetworkPassphrase
	case "pubnet", "public", "mainnet":
		return network.PublicNetworkPassphrase
	case "futurenet":
		return futureNetworkPassphrase
	default:
		return c.Network.Passphrase
	}
}

// OperatorKey returns the operator signer, or nil when none is configured.
func (c *Config) OperatorKey() (*keypair.Full, error) {
	return parseSigner(c.Signers.OperatorSecret)
}

// UserKey returns the user signer, or nil when none is configured.
func (c *Config) UserKey() (*keypair.Full, error) {
	return parseSigner(c.Signers.UserSecret)
}

func parseSigner(secret string) (*keypair.Full, error) {
	if secret == "" {
		return nil, nil
	}
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, fmt.Errorf("parse secret seed: %w", err)
	}
	return kp, nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
