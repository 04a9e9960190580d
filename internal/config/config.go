package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/expr-lang/expr"
	"gopkg.in/yaml.v3"

	"bountyline/internal/domain"
	"bountyline/internal/wei"
)

// Config models bountyline.yml.
type Config struct {
	Ledger struct {
		MinOrgStake     wei.Amount `yaml:"min_org_stake"`
		StakeMinPercent uint64     `yaml:"stake_min_percent"`
		StakeMaxPercent uint64     `yaml:"stake_max_percent"`
		Durations       struct {
			Easy   Duration `yaml:"easy"`
			Medium Duration `yaml:"medium"`
			Hard   Duration `yaml:"hard"`
		} `yaml:"durations"`
		DefaultBounties struct {
			Easy   wei.Amount `yaml:"easy"`
			Medium wei.Amount `yaml:"medium"`
			Hard   wei.Amount `yaml:"hard"`
		} `yaml:"default_bounties"`
	} `yaml:"ledger"`
	Agents struct {
		Verified []string `yaml:"verified"`
	} `yaml:"agents"`
	Webhooks []Webhook `yaml:"webhooks"`
	Payouts  struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		Batch           int `yaml:"batch"`
	} `yaml:"payouts"`
	Analysis struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"analysis"`
	Github struct {
		TokenEnv string `yaml:"token_env"`
	} `yaml:"github"`
}

type Webhook struct {
	URL    string `yaml:"url"`
	Filter string `yaml:"filter,omitempty"`
}

// Duration is a whole number of seconds. YAML accepts either an integer or a
// Go duration string such as "168h".
type Duration uint64

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var n uint64
	if err := node.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(parsed / time.Second)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return uint64(d), nil }

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Ledger.MinOrgStake.IsZero() {
		return fmt.Errorf("config.ledger.min_org_stake must be greater than zero")
	}
	if c.Ledger.StakeMinPercent == 0 || c.Ledger.StakeMaxPercent == 0 {
		return fmt.Errorf("config.ledger stake percents are required")
	}
	if c.Ledger.StakeMinPercent > c.Ledger.StakeMaxPercent {
		return fmt.Errorf("config.ledger.stake_min_percent exceeds stake_max_percent")
	}
	if c.Ledger.StakeMaxPercent > 100 {
		return fmt.Errorf("config.ledger.stake_max_percent must be at most 100")
	}
	d := c.Ledger.Durations
	for _, v := range []Duration{d.Easy, d.Medium, d.Hard} {
		if !domain.ValidDuration(uint64(v)) {
			return fmt.Errorf("config.ledger.durations must be between 1 and %d seconds", domain.MaxDuration)
		}
	}
	for _, a := range c.Agents.Verified {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("config.agents.verified has invalid address %q", a)
		}
	}
	for i, wh := range c.Webhooks {
		if strings.TrimSpace(wh.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if wh.Filter != "" {
			if _, err := CompileFilter(wh.Filter); err != nil {
				return fmt.Errorf("config.webhooks[%d].filter: %w", i, err)
			}
		}
	}
	if c.Payouts.IntervalSeconds < 0 || c.Payouts.Batch < 0 {
		return fmt.Errorf("config.payouts values must not be negative")
	}
	if c.Analysis.TimeoutSeconds < 0 {
		return fmt.Errorf("config.analysis.timeout_seconds must not be negative")
	}
	return nil
}

// FilterEnv is the environment webhook filters are compiled against.
type FilterEnv struct {
	Type    string         `expr:"type"`
	Entity  string         `expr:"entity"`
	Caller  string         `expr:"caller"`
	Payload map[string]any `expr:"payload"`
}

// CompileFilter compiles a webhook filter expression that must yield a bool.
func CompileFilter(src string) (*FilterProgram, error) {
	prog, err := expr.Compile(src, expr.Env(FilterEnv{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	return &FilterProgram{prog: prog}, nil
}

// IsVerifiedAgent reports whether addr may create issues for any organization.
func (c *Config) IsVerifiedAgent(addr common.Address) bool {
	for _, a := range c.Agents.Verified {
		if common.HexToAddress(a) == addr {
			return true
		}
	}
	return false
}

// Durations returns the default assignment windows in seconds.
func (c *Config) Durations() (easy, medium, hard uint64) {
	d := c.Ledger.Durations
	return uint64(d.Easy), uint64(d.Medium), uint64(d.Hard)
}

// DefaultBounty returns the suggested bounty for a difficulty.
func (c *Config) DefaultBounty(d domain.Difficulty) wei.Amount {
	switch d {
	case domain.DifficultyMedium:
		return c.Ledger.DefaultBounties.Medium
	case domain.DifficultyHard:
		return c.Ledger.DefaultBounties.Hard
	default:
		return c.Ledger.DefaultBounties.Easy
	}
}

func (c *Config) PayoutInterval() time.Duration {
	if c.Payouts.IntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Payouts.IntervalSeconds) * time.Second
}

func (c *Config) PayoutBatch() int {
	if c.Payouts.Batch <= 0 {
		return 50
	}
	return c.Payouts.Batch
}

func (c *Config) AnalysisTimeout() time.Duration {
	if c.Analysis.TimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Analysis.TimeoutSeconds) * time.Second
}

// GithubToken reads the token from the configured environment variable.
func (c *Config) GithubToken() string {
	name := c.Github.TokenEnv
	if name == "" {
		name = "GITHUB_TOKEN"
	}
	return os.Getenv(name)
}

// Default returns the default Config.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string { return defaultTemplate }

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `ledger:
  min_org_stake: 0.000001ether
  stake_min_percent: 5
  stake_max_percent: 20
  durations:
    easy: 168h
    medium: 720h
    hard: 3600h
  default_bounties:
    easy: 0.00001ether
    medium: 0.00005ether
    hard: 0.0001ether

agents:
  verified: []

webhooks: []

payouts:
  interval_seconds: 2
  batch: 50

analysis:
  url: http://localhost:5000
  timeout_seconds: 600

github:
  token_env: GITHUB_TOKEN
`
