package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// 配置加载（运行模式、阈值、基础设施）

// ErrMissingCredentials 实盘模式缺少钱包地址等必要凭证
var ErrMissingCredentials = errors.New("missing required credentials")

const (
	ModePaper = "PAPER"
	ModeLive  = "LIVE"

	ExecManual     = "manual"
	ExecSemiAuto   = "semi_autonomous"
	ExecAutonomous = "autonomous"
)

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type TradingConfig struct {
	Mode              string        `yaml:"mode" validate:"oneof=PAPER LIVE"`
	ExecutionMode     string        `yaml:"execution-mode" validate:"oneof=manual semi_autonomous autonomous"`
	TickInterval      time.Duration `yaml:"tick-interval" validate:"gt=0"`
	Workers           int           `yaml:"workers" validate:"gte=1,lte=64"`
	Capital           float64       `yaml:"capital" validate:"gt=0"`           // 初始权益
	CapitalPerTrade   float64       `yaml:"capital-per-trade" validate:"gt=0"` // 单笔保证金
	Leverage          float64       `yaml:"leverage" validate:"gte=1"`
	MaxPositions      int           `yaml:"max-positions" validate:"gte=1"`
	Assets            []string      `yaml:"assets"`
	TopN              int           `yaml:"top-n" validate:"gte=0"`
	RankingInterval   time.Duration `yaml:"ranking-interval"`
	ReconcileInterval time.Duration `yaml:"reconcile-interval"`
	CandleInterval    string        `yaml:"candle-interval"`
	CandleLookback    int           `yaml:"candle-lookback" validate:"gte=50"`
	AllowAdd          bool          `yaml:"allow-add"`
	MaxAdds           int           `yaml:"max-adds"`
}

// QualityConfig 矛盾等级的打分阈值
type QualityConfig struct {
	PerVoteCap                float64 `yaml:"per-vote-cap" validate:"gt=0"`
	MediumPoints              float64 `yaml:"medium-points" validate:"gt=0"`
	HighPoints                float64 `yaml:"high-points" validate:"gtfield=MediumPoints"`
	CriticalPoints            float64 `yaml:"critical-points" validate:"gtfield=HighPoints"`
	CriticalMinVotes          int     `yaml:"critical-min-votes" validate:"gte=2"`
	RedundancyPenaltyPerGroup float64 `yaml:"redundancy-penalty-per-group" validate:"gte=0,lt=1"`
	RedundancyPenaltyCap      float64 `yaml:"redundancy-penalty-cap" validate:"gte=0,lt=1"`
}

type SignalConfig struct {
	MinConfidence   float64 `yaml:"min-confidence" validate:"gte=0,lte=1"`
	AtrStopMultiple float64 `yaml:"atr-stop-multiple" validate:"gt=0"`
	StopPct         float64 `yaml:"stop-pct" validate:"gt=0,lt=100"` // ATR缺失时的止损百分比
	RewardRisk      float64 `yaml:"reward-risk" validate:"gt=0"`
	ReducePct       float64 `yaml:"reduce-pct" validate:"gt=0,lte=100"` // reduce 信号的减仓比例
}

type ThresholdConfig struct {
	Reject    float64 `yaml:"reject"`
	Display   float64 `yaml:"display"`
	AutoTrade float64 `yaml:"auto-trade"`
}

type GateConfig struct {
	FeeRate    float64                    `yaml:"fee-rate" validate:"gte=0"`
	Thresholds map[string]ThresholdConfig `yaml:"thresholds"`
}

type TakeProfitLevel struct {
	GainPct float64 `yaml:"gain-pct" validate:"gt=0"`
	SizePct float64 `yaml:"size-pct" validate:"gt=0,lte=100"`
}

type ExitConfig struct {
	TakeProfitLevels      []TakeProfitLevel `yaml:"take-profit-levels" validate:"dive"`
	TrailingActivationPct float64           `yaml:"trailing-activation-pct" validate:"gte=0"`
	TrailingDistancePct   float64           `yaml:"trailing-distance-pct" validate:"gt=0,lt=100"`
	ReversalThreshold     float64           `yaml:"reversal-threshold" validate:"gte=0,lte=1"`
	RankingTrimPct        float64           `yaml:"ranking-trim-pct" validate:"gte=0,lte=100"`
	IndicatorTrimPct      float64           `yaml:"indicator-trim-pct" validate:"gte=0,lte=100"`
	OverboughtRSI         float64           `yaml:"overbought-rsi"`
	OversoldRSI           float64           `yaml:"oversold-rsi"`
}

type BreakerConfig struct {
	MaxConsecutiveLosses int     `yaml:"max-consecutive-losses" validate:"gte=1"`
	MaxDrawdownPct       float64 `yaml:"max-drawdown-pct" validate:"gt=0,lte=100"`
}

type ExecutionConfig struct {
	FillTimeout       time.Duration `yaml:"fill-timeout" validate:"gt=0"`
	PollInterval      time.Duration `yaml:"poll-interval" validate:"gt=0"`
	RetryOnTimeout    bool          `yaml:"retry-on-timeout"`
	MaxRetries        int           `yaml:"max-retries" validate:"gte=0"`
	Escalation        string        `yaml:"escalation" validate:"oneof=linear geometric"`
	SlippageStart     float64       `yaml:"slippage-start" validate:"gt=0"` // 小数，0.0001 = 0.01%
	SlippageStep      float64       `yaml:"slippage-step" validate:"gte=0"`
	SlippageFactor    float64       `yaml:"slippage-factor" validate:"gte=1"`
	SlippageCap       float64       `yaml:"slippage-cap" validate:"gtfield=SlippageStart,lte=0.5"`
	MaxPriceDeviation float64       `yaml:"max-price-deviation" validate:"gt=0"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max-attempts" validate:"gte=1"`
	InitialInterval time.Duration `yaml:"initial-interval"`
	MaxInterval     time.Duration `yaml:"max-interval"`
	Multiplier      float64       `yaml:"multiplier" validate:"gte=1"`
}

type HyperliquidConfig struct {
	URL               string  `yaml:"url" validate:"url"`
	WsURL             string  `yaml:"ws-url"`
	Wallet            string  `yaml:"wallet"`
	SignerURL         string  `yaml:"signer-url"` // 外部签名服务
	RequestsPerSecond float64 `yaml:"requests-per-second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"gte=1"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=file redis"`
	Path   string `yaml:"path"`
	Key    string `yaml:"key"`
}

type RecorderConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	MaxPingCount int    `yaml:"max-ping-count"`
	OpsSecret    string `yaml:"ops-secret"` // 非本机调用运维接口时的签名密钥

	Trading     TradingConfig     `yaml:"trading"`
	Quality     QualityConfig     `yaml:"quality"`
	Signal      SignalConfig      `yaml:"signal"`
	Gate        GateConfig        `yaml:"gate"`
	Exit        ExitConfig        `yaml:"exit"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Retry       RetryConfig       `yaml:"retry"`
	Hyperliquid HyperliquidConfig `yaml:"hyperliquid"`
	Store       StoreConfig       `yaml:"store"`
	Recorder    RecorderConfig    `yaml:"recorder"`
	Log         LogConfig         `yaml:"log"`
	Redis       RedisConfig       `yaml:"redis"`
	Db          `yaml:"database"`
	Kafka       KafkaConfig `yaml:"kafka"`
}

var AppConfig Config

// Default 返回一份可直接运行的纸面交易配置
func Default() Config {
	return Config{
		AppName:      "edgetrader",
		Listen:       ":12180",
		MaxPingCount: 10,
		Trading: TradingConfig{
			Mode:              ModePaper,
			ExecutionMode:     ExecAutonomous,
			TickInterval:      5 * time.Minute,
			Workers:           4,
			Capital:           10000,
			CapitalPerTrade:   500,
			Leverage:          3,
			MaxPositions:      5,
			Assets:            []string{"BTC", "ETH", "SOL"},
			TopN:              10,
			RankingInterval:   time.Hour,
			ReconcileInterval: 10 * time.Minute,
			CandleInterval:    "15m",
			CandleLookback:    300,
			AllowAdd:          false,
			MaxAdds:           1,
		},
		Quality: QualityConfig{
			PerVoteCap:                2.0,
			MediumPoints:              2.0,
			HighPoints:                4.0,
			CriticalPoints:            6.0,
			CriticalMinVotes:          3,
			RedundancyPenaltyPerGroup: 0.05,
			RedundancyPenaltyCap:      0.20,
		},
		Signal: SignalConfig{
			MinConfidence:   0.55,
			AtrStopMultiple: 2.0,
			StopPct:         3.0,
			RewardRisk:      2.0,
			ReducePct:       50,
		},
		Gate: GateConfig{
			FeeRate: 0.00035,
			Thresholds: map[string]ThresholdConfig{
				ExecManual:     {Reject: 0, Display: 5, AutoTrade: 25},
				ExecSemiAuto:   {Reject: 0, Display: 10, AutoTrade: 40},
				ExecAutonomous: {Reject: 0, Display: 5, AutoTrade: 20},
			},
		},
		Exit: ExitConfig{
			TakeProfitLevels: []TakeProfitLevel{
				{GainPct: 3, SizePct: 25},
				{GainPct: 6, SizePct: 25},
			},
			TrailingActivationPct: 1,
			TrailingDistancePct:   5,
			ReversalThreshold:     0.7,
			RankingTrimPct:        50,
			IndicatorTrimPct:      25,
			OverboughtRSI:         80,
			OversoldRSI:           20,
		},
		Breaker: BreakerConfig{
			MaxConsecutiveLosses: 4,
			MaxDrawdownPct:       15,
		},
		Execution: ExecutionConfig{
			FillTimeout:       30 * time.Second,
			PollInterval:      time.Second,
			RetryOnTimeout:    true,
			MaxRetries:        5,
			Escalation:        "geometric",
			SlippageStart:     0.0001,
			SlippageStep:      0.0005,
			SlippageFactor:    4,
			SlippageCap:       0.08,
			MaxPriceDeviation: 0.10,
		},
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
		},
		Hyperliquid: HyperliquidConfig{
			URL:               "https://api.hyperliquid.xyz",
			WsURL:             "wss://api.hyperliquid.xyz/ws",
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Store: StoreConfig{
			Driver: "file",
			Path:   "data/cycle_state.json",
			Key:    "edgetrader:cycle_state",
		},
		Recorder: RecorderConfig{Path: "logs/execution-report.jsonl"},
		Log: LogConfig{
			Level:      "info",
			FileName:   "logs/edgetrader.log",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Console:    true,
		},
	}
}

// LoadConfig 在默认配置的基础上覆盖yaml中的字段
func LoadConfig(path string) error {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// ApplyEnv 环境变量优先于配置文件
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("EDGETRADER_MODE"); v != "" {
		c.Trading.Mode = strings.ToUpper(v)
	}
	if v := getenv("EDGETRADER_WALLET"); v != "" {
		c.Hyperliquid.Wallet = v
	}
	if v := getenv("EDGETRADER_SIGNER_URL"); v != "" {
		c.Hyperliquid.SignerURL = v
	}
	if v := getenv("EDGETRADER_OPS_SECRET"); v != "" {
		c.OpsSecret = v
	}
	if v := getenv("EDGETRADER_CAPITAL"); v != "" {
		if f, err := cast.ToFloat64E(v); err == nil {
			c.Trading.Capital = f
		}
	}
	if v := getenv("EDGETRADER_WORKERS"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			c.Trading.Workers = n
		}
	}

	redisHost := getenv("REDIS_HOST")
	redisPort := getenv("REDIS_PORT")
	if redisHost != "" && redisPort != "" {
		c.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	dbUser := getenv("DB_USER")
	dbPass := getenv("DB_PASSWORD")
	dbHost := getenv("DB_HOST")
	if dbUser != "" && dbPass != "" && dbHost != "" {
		c.Db.Username = dbUser
		c.Db.Password = dbPass
		c.Db.Host = dbHost
		c.Db.Port = getenv("DB_PORT")
		if name := getenv("DB_NAME"); name != "" {
			c.Db.DbName = name
		}
	}

	if v := getenv("KAFKA_BROKER"); v != "" {
		c.Kafka.Broker = v
	}
}

var validate = validator.New()

// Validate 校验字段范围以及各字段之间的约束
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, mode := range []string{ExecManual, ExecSemiAuto, ExecAutonomous} {
		th, ok := c.Gate.Thresholds[mode]
		if !ok {
			return fmt.Errorf("invalid config: gate thresholds for %s missing", mode)
		}
		if !(th.Reject < th.Display && th.Display < th.AutoTrade) {
			return fmt.Errorf("invalid config: gate thresholds for %s must satisfy reject < display < auto-trade", mode)
		}
	}
	if c.Trading.Mode == ModeLive && c.Hyperliquid.Wallet == "" {
		return fmt.Errorf("live mode needs hyperliquid.wallet: %w", ErrMissingCredentials)
	}
	if c.Trading.Mode == ModeLive && c.Hyperliquid.SignerURL == "" {
		return fmt.Errorf("live mode needs hyperliquid.signer-url: %w", ErrMissingCredentials)
	}
	if c.Store.Driver == "file" && c.Store.Path == "" {
		return errors.New("invalid config: store.path is required for the file store")
	}
	if c.Store.Driver == "redis" && c.Redis.Addr == "" {
		return errors.New("invalid config: redis.address is required for the redis store")
	}
	return nil
}

// Thresholds 当前执行模式下的EV阈值
func (c *Config) Thresholds() ThresholdConfig {
	return c.Gate.Thresholds[c.Trading.ExecutionMode]
}
