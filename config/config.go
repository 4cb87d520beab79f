package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	tmcfg "github.com/tendermint/tendermint/config"
)

const (
	DefaultHomeDir   = ".chain_vote"
	DefaultConfigDir = "config"
	DefaultDataDir   = "data"
	EnvPrefix        = "VOTE"

	defaultPrivValKeyName = "priv_validator_key.json"
	defaultNodeKeyName    = "node_key.json"
	defaultCommitteeName  = "committee.json"
)

// Config 节点的全部配置
type Config struct {
	BaseConfig `mapstructure:",squash"`

	P2P     *tmcfg.P2PConfig `mapstructure:"p2p"`
	RPC     *tmcfg.RPCConfig `mapstructure:"rpc"`
	Overlay *OverlayConfig   `mapstructure:"overlay"`
	Voting  *VotingConfig    `mapstructure:"voting"`
}

func DefaultConfig() *Config {
	return &Config{
		BaseConfig: DefaultBaseConfig(),
		P2P:        tmcfg.DefaultP2PConfig(),
		RPC:        tmcfg.DefaultRPCConfig(),
		Overlay:    DefaultOverlayConfig(),
		Voting:     DefaultVotingConfig(),
	}
}

// TestConfig 测试用的配置，维护间隔更短
func TestConfig() *Config {
	return &Config{
		BaseConfig: DefaultBaseConfig(),
		P2P:        tmcfg.TestP2PConfig(),
		RPC:        tmcfg.TestRPCConfig(),
		Overlay:    TestOverlayConfig(),
		Voting:     DefaultVotingConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.P2P.RootDir = root
	cfg.RPC.RootDir = root
	return cfg
}

func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [p2p] section")
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [rpc] section")
	}
	if err := cfg.Overlay.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [overlay] section")
	}
	if err := cfg.Voting.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [voting] section")
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

type BaseConfig struct {
	RootDir string `mapstructure:"home"`
	Moniker string `mapstructure:"moniker"`

	// debug | info | error | none
	LogLevel string `mapstructure:"log_level"`

	PrivValidatorKey string `mapstructure:"priv_validator_key_file"`
	NodeKey          string `mapstructure:"node_key_file"`
	// 各条链的委员会，tmjson格式
	Committee string `mapstructure:"committee_file"`

	DBBackend string `mapstructure:"db_backend"`
	DBPath    string `mapstructure:"db_dir"`

	// 本节点服务的链
	Chains []string `mapstructure:"chains"`
}

func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:          "anonymous",
		LogLevel:         "info",
		PrivValidatorKey: filepath.Join(DefaultConfigDir, defaultPrivValKeyName),
		NodeKey:          filepath.Join(DefaultConfigDir, defaultNodeKeyName),
		Committee:        filepath.Join(DefaultConfigDir, defaultCommitteeName),
		DBBackend:        "goleveldb",
		DBPath:           DefaultDataDir,
		Chains:           []string{"test-chain"},
	}
}

func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogLevel {
	case "debug", "info", "error", "none":
	default:
		return errors.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	if len(cfg.Chains) == 0 {
		return errors.New("no chain configured")
	}
	return nil
}

func (cfg BaseConfig) PrivValidatorKeyFile() string {
	return rootify(cfg.PrivValidatorKey, cfg.RootDir)
}

func (cfg BaseConfig) NodeKeyFile() string {
	return rootify(cfg.NodeKey, cfg.RootDir)
}

func (cfg BaseConfig) CommitteeFile() string {
	return rootify(cfg.Committee, cfg.RootDir)
}

func (cfg BaseConfig) ConfigDir() string {
	return rootify(DefaultConfigDir, cfg.RootDir)
}

func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

//-----------------------------------------------------------------------------
// OverlayConfig

// OverlayConfig 验证者私有网络的连接维护参数
type OverlayConfig struct {
	// 连续连接失败达到该次数后清除nodeID，等待重新发现
	MaxFail int `mapstructure:"max_fail"`

	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	DialConcurrency     int           `mapstructure:"dial_concurrency"`

	// 可用性门限，百分比
	AvailablePercent int `mapstructure:"available_percent"`

	// 未全部连通时重新广播身份的最小间隔
	AnnounceInterval time.Duration `mapstructure:"announce_interval"`

	SeenCacheSize int `mapstructure:"seen_cache_size"`
	QueueSize     int `mapstructure:"queue_size"`
}

func DefaultOverlayConfig() *OverlayConfig {
	return &OverlayConfig{
		MaxFail:             5,
		MaintenanceInterval: 2 * time.Second,
		DialTimeout:         3 * time.Second,
		DialConcurrency:     8,
		AvailablePercent:    67,
		AnnounceInterval:    10 * time.Second,
		SeenCacheSize:       1024,
		QueueSize:           256,
	}
}

func TestOverlayConfig() *OverlayConfig {
	cfg := DefaultOverlayConfig()
	cfg.MaintenanceInterval = 50 * time.Millisecond
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.AnnounceInterval = 100 * time.Millisecond
	return cfg
}

func (cfg *OverlayConfig) ValidateBasic() error {
	switch {
	case cfg.MaxFail <= 0:
		return errors.New("max_fail must be positive")
	case cfg.MaintenanceInterval <= 0:
		return errors.New("maintenance_interval must be positive")
	case cfg.DialTimeout <= 0:
		return errors.New("dial_timeout must be positive")
	case cfg.DialConcurrency <= 0:
		return errors.New("dial_concurrency must be positive")
	case cfg.AvailablePercent <= 0 || cfg.AvailablePercent > 100:
		return errors.New("available_percent must be in (0, 100]")
	case cfg.SeenCacheSize <= 0:
		return errors.New("seen_cache_size must be positive")
	case cfg.QueueSize <= 0:
		return errors.New("queue_size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// VotingConfig

type VotingConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	// LRU里最多缓存的未开始高度数
	FutureHeights int `mapstructure:"future_heights"`
}

func DefaultVotingConfig() *VotingConfig {
	return &VotingConfig{
		QueueSize:     1024,
		FutureHeights: 64,
	}
}

func (cfg *VotingConfig) ValidateBasic() error {
	if cfg.QueueSize <= 0 {
		return errors.New("queue_size must be positive")
	}
	if cfg.FutureHeights <= 0 {
		return errors.New("future_heights must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------

// LoadConfig 读取 <home>/config/config.toml，环境变量 VOTE_* 覆盖文件中的值
func LoadConfig(v *viper.Viper, home string) (*Config, error) {
	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.SetRoot(home)
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
