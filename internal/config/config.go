package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the client core. Zero values are filled
// in from Default, so a partial YAML file is fine.
type Config struct {
	DataDir string `yaml:"data_dir"`

	// Relay endpoints (websocket URLs). No single relay is authoritative;
	// every operation fans out across all of them.
	Relays []string `yaml:"relays"`

	// Delegated signing agent URL. Empty means a local key is used.
	SignerURL string `yaml:"signer_url"`

	// Swarm transport.
	BootstrapPeers []string      `yaml:"bootstrap_peers"`
	ListenAddrs    []string      `yaml:"listen_addrs"`
	JoinTimeout    time.Duration `yaml:"join_timeout"`
	MaxSessions    int           `yaml:"max_sessions"`
	CacheCeiling   int64         `yaml:"cache_ceiling"`
	GatewayURL     string        `yaml:"gateway_url"`

	// Proof-of-work difficulties in leading zero bits.
	PowDifficulty       int `yaml:"pow_difficulty"`
	ReportPowDifficulty int `yaml:"report_pow_difficulty"`

	RelayTimeout time.Duration `yaml:"relay_timeout"`

	// Trust and moderation.
	HideThreshold      float64       `yaml:"hide_threshold"`
	LikeWeight         float64       `yaml:"like_weight"`
	ReportBaseWeight   float64       `yaml:"report_base_weight"`
	VelocityThreshold  int           `yaml:"velocity_threshold"`
	VelocityWindow     time.Duration `yaml:"velocity_window"`
	VelocityMultiplier float64       `yaml:"velocity_multiplier"`

	FeedWindow int `yaml:"feed_window"`
}

// Default returns the stock configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".vidmesh"),
		Relays: []string{
			"wss://relay.damus.io",
			"wss://relay.snort.social",
			"wss://nos.lol",
		},
		ListenAddrs:         []string{"/ip4/0.0.0.0/tcp/0"},
		JoinTimeout:         12 * time.Second,
		MaxSessions:         16,
		CacheCeiling:        1 << 30, // 1 GiB
		GatewayURL:          "https://ipfs.io",
		PowDifficulty:       0,
		ReportPowDifficulty: 12,
		RelayTimeout:        20 * time.Second,
		HideThreshold:       0.35,
		LikeWeight:          0.05,
		ReportBaseWeight:    10,
		VelocityThreshold:   5,
		VelocityWindow:      300 * time.Second,
		VelocityMultiplier:  3.0,
		FeedWindow:          50,
	}
}

// Load reads a YAML config file over the defaults, then applies
// VIDMESH_* environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VIDMESH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VIDMESH_RELAYS"); v != "" {
		c.Relays = splitList(v)
	}
	if v := os.Getenv("VIDMESH_SIGNER_URL"); v != "" {
		c.SignerURL = v
	}
	if v := os.Getenv("VIDMESH_BOOTSTRAP_PEERS"); v != "" {
		c.BootstrapPeers = splitList(v)
	}
	if v := os.Getenv("VIDMESH_GATEWAY_URL"); v != "" {
		c.GatewayURL = v
	}
	if v := os.Getenv("VIDMESH_POW_DIFFICULTY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PowDifficulty = n
		}
	}
	if v := os.Getenv("VIDMESH_CACHE_CEILING"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CacheCeiling = n
		}
	}
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	if len(c.Relays) == 0 {
		return fmt.Errorf("config: at least one relay is required")
	}
	for _, r := range c.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("config: relay %q is not a websocket URL", r)
		}
	}
	for _, p := range c.BootstrapPeers {
		if _, err := ma.NewMultiaddr(p); err != nil {
			return fmt.Errorf("config: bad bootstrap peer %q: %w", p, err)
		}
	}
	if c.CacheCeiling <= 0 {
		return fmt.Errorf("config: cache_ceiling must be positive")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: max_sessions must be positive")
	}
	if c.HideThreshold <= 0 || c.HideThreshold >= 1 {
		return fmt.Errorf("config: hide_threshold must be in (0,1)")
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
