package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultMaxRange is the widest block window one analysis run scans.
const DefaultMaxRange = 4000

// Config holds the YAML configuration.
type Config struct {
	Version int          `yaml:"version"`
	Global  GlobalConfig `yaml:"global"`
	API     API          `yaml:"api"`
	Chains  []Chain      `yaml:"chains"`
	Notify  []Notify     `yaml:"notify"`
}

type GlobalConfig struct {
	Storage         string `yaml:"storage"`
	DataDir         string `yaml:"data_dir"`
	DBPath          string `yaml:"db_path"`
	Interval        string `yaml:"interval"`
	MaxRange        uint64 `yaml:"max_range"`
	DeliveryWorkers int    `yaml:"delivery_workers"`
	HTTPTimeout     string `yaml:"http_timeout"`
	RunTimeout      string `yaml:"run_timeout"`
}

// API describes the downstream verification service.
type API struct {
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
	Paths   Paths  `yaml:"paths"`
}

type Paths struct {
	WatchTower     string `yaml:"watch_tower"`
	Stacking       string `yaml:"stacking"`
	StackingFees   string `yaml:"stacking_fees"`
	FeesWithdrawal string `yaml:"fees_withdrawal"`
}

// Chain is one EVM network with its two watched contracts.
type Chain struct {
	ID              uint64   `yaml:"id"`
	Name            string   `yaml:"name"`
	RPCURL          string   `yaml:"rpc_url"`
	DexContract     string   `yaml:"dex_contract"`
	StakingContract string   `yaml:"staking_contract"`
	GenesisBlock    uint64   `yaml:"genesis_block"`
	ABIDirs         []string `yaml:"abi_dirs"`
}

// Notify is an operator alert channel.
type Notify struct {
	ID            string  `yaml:"id"`
	Type          string  `yaml:"type"`
	WebhookURL    string  `yaml:"webhook_url"`
	URL           string  `yaml:"url"`
	Method        string  `yaml:"method"`
	Template      string  `yaml:"template"`
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         float64 `yaml:"burst"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults, and validates.
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

	cfg.ApplyDefaults()
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

// ApplyDefaults fills unset global and path values.
func (c *Config) ApplyDefaults() {
	g := &c.Global
	if g.Storage == "" {
		g.Storage = "file"
	}
	if g.DataDir == "" {
		g.DataDir = "blocks"
	}
	if g.DBPath == "" {
		g.DBPath = "inspector.db"
	}
	if g.Interval == "" {
		g.Interval = "1m"
	}
	if g.MaxRange == 0 {
		g.MaxRange = DefaultMaxRange
	}
	if g.HTTPTimeout == "" {
		g.HTTPTimeout = "8s"
	}

	p := &c.API.Paths
	if p.WatchTower == "" {
		p.WatchTower = "/watch-tower"
	}
	if p.Stacking == "" {
		p.Stacking = "/stacking"
	}
	if p.StackingFees == "" {
		p.StackingFees = "/stacking-fees"
	}
	if p.FeesWithdrawal == "" {
		p.FeesWithdrawal = "/fees-withdrawal"
	}

	for i := range c.Chains {
		if c.Chains[i].Name == "" {
			c.Chains[i].Name = c.Chains[i].Key()
		}
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}

	chainIDs := map[uint64]struct{}{}
	for i := range c.Chains {
		ch := &c.Chains[i]
		if _, exists := chainIDs[ch.ID]; exists {
			return fmt.Errorf("duplicate chain id: %d", ch.ID)
		}
		chainIDs[ch.ID] = struct{}{}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %s: %w", ch.Name, err)
		}
	}

	notifyIDs := map[string]struct{}{}
	for i := range c.Notify {
		n := &c.Notify[i]
		if _, exists := notifyIDs[n.ID]; exists {
			return fmt.Errorf("duplicate notify id: %s", n.ID)
		}
		notifyIDs[n.ID] = struct{}{}
		if err := n.Validate(); err != nil {
			return fmt.Errorf("notify %s: %w", n.ID, err)
		}
	}

	return nil
}

func (g *GlobalConfig) Validate() error {
	switch strings.ToLower(g.Storage) {
	case "file":
		if g.DataDir == "" {
			return errors.New("data_dir is required for file storage")
		}
	case "sqlite":
		if g.DBPath == "" {
			return errors.New("db_path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unsupported storage: %s", g.Storage)
	}
	if g.DeliveryWorkers < 0 {
		return errors.New("delivery_workers must not be negative")
	}
	for name, raw := range map[string]string{
		"interval":     g.Interval,
		"http_timeout": g.HTTPTimeout,
		"run_timeout":  g.RunTimeout,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if iv, _ := time.ParseDuration(g.Interval); iv == 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

// IntervalDuration returns the scheduler tick interval.
func (g GlobalConfig) IntervalDuration() time.Duration { return parseDuration(g.Interval) }

// HTTPTimeoutDuration returns the per-request timeout of downstream calls.
func (g GlobalConfig) HTTPTimeoutDuration() time.Duration { return parseDuration(g.HTTPTimeout) }

// RunTimeoutDuration returns the per-run budget; zero means unbounded.
func (g GlobalConfig) RunTimeoutDuration() time.Duration { return parseDuration(g.RunTimeout) }

func parseDuration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, _ := time.ParseDuration(raw)
	return d
}

func (a *API) Validate() error {
	if a.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if a.Secret == "" {
		return errors.New("secret is required")
	}
	return nil
}

// Key is the decimal chain id used in storage paths and records.
func (ch Chain) Key() string {
	return strconv.FormatUint(ch.ID, 10)
}

func (ch *Chain) Validate() error {
	if ch.ID == 0 {
		return errors.New("id is required")
	}
	if ch.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if !common.IsHexAddress(ch.DexContract) {
		return fmt.Errorf("dex_contract %q is not a hex address", ch.DexContract)
	}
	if !common.IsHexAddress(ch.StakingContract) {
		return fmt.Errorf("staking_contract %q is not a hex address", ch.StakingContract)
	}
	if common.HexToAddress(ch.DexContract) == common.HexToAddress(ch.StakingContract) {
		return fmt.Errorf("dex_contract and staking_contract are the same address %s", ch.DexContract)
	}
	return nil
}

func (n *Notify) Validate() error {
	if n.ID == "" {
		return errors.New("id is required")
	}
	if n.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(n.Type) {
	case "slack", "teams":
		if n.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams notify")
		}
	case "webhook":
		if n.URL == "" {
			return errors.New("url is required for webhook notify")
		}
		if n.Method == "" {
			n.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported notify type: %s", n.Type)
	}
	if n.RatePerMinute < 0 || n.Burst < 0 {
		return errors.New("rate_per_minute and burst must not be negative")
	}
	return nil
}

// Chain returns the configured chain with the given id.
func (c *Config) Chain(id uint64) (Chain, bool) {
	for _, ch := range c.Chains {
		if ch.ID == id {
			return ch, true
		}
	}
	return Chain{}, false
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
