package conf

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 配置加载（API密钥、策略参数等）

// SupportedTimeframes 交易所K线周期，okx 的 bar 写法，大小写敏感
var SupportedTimeframes = []string{"15m", "30m", "1H", "4H"}

// ErrConfig 配置错误，只在启动时出现
var ErrConfig = errors.New("invalid config")

type Okx struct {
	ApiKey    string `yaml:"apiKey"`
	SecretKey string `yaml:"secretKey"`
	Password  string `yaml:"password"`
	Simulated bool   `yaml:"simulated"`
}

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

// StrategyParams 每个币种+周期的策略参数，百分比为单位
type StrategyParams struct {
	Symbol    string  `yaml:"symbol" validate:"required"`
	Timeframe string  `yaml:"timeframe" validate:"required,oneof=15m 30m 1H 4H"`
	IN1       int     `yaml:"in1" validate:"gt=0"` // 支撑阻力回看窗口
	IN2       float64 `yaml:"in2"`
	TP1       float64 `yaml:"tp1" validate:"gt=0"`
	TP2       float64 `yaml:"tp2" validate:"gt=0"`
	TP3       float64 `yaml:"tp3" validate:"gt=0"`
	TP4       float64 `yaml:"tp4" validate:"gt=0"`
	SL        float64 `yaml:"sl" validate:"gt=0,lt=100"`
}

// TakeProfits TP1..TP4
func (p StrategyParams) TakeProfits() [4]float64 {
	return [4]float64{p.TP1, p.TP2, p.TP3, p.TP4}
}

type Subscription struct {
	Symbol     string   `yaml:"symbol" validate:"required"`
	Timeframes []string `yaml:"timeframes" validate:"min=1,dive,required,oneof=15m 30m 1H 4H"`
}

type StrategyConfig struct {
	MaxCandles        int                `yaml:"max_candles" validate:"gte=2"`
	WarmupCandles     int                `yaml:"warmup_candles" validate:"gte=2"`
	ConfirmedOnly     bool               `yaml:"confirmed_only"`                  // 只在K线收盘时评估信号
	MaxMarginRatio    float64            `yaml:"max_margin_ratio" validate:"gt=0"` // 百分比
	RiskPct           float64            `yaml:"risk_pct" validate:"gt=0,lte=1"`   // 每笔使用的权益比例
	ProtectiveRetries int                `yaml:"protective_retries" validate:"gte=0"`
	ProtectiveDelay   time.Duration      `yaml:"protective_delay"` // 开仓后等待多久再挂止盈止损
	RetryDelay        time.Duration      `yaml:"protective_retry_delay" validate:"gte=0"` // 保护单失败后重试前的等待
	BalanceInterval   time.Duration      `yaml:"balance_interval"`
	QueueSize         int                `yaml:"queue_size" validate:"gte=1"`
	MinPriceChange    map[string]float64 `yaml:"min_price_change"`
	Subscriptions     []Subscription     `yaml:"subscriptions" validate:"min=1,dive"`
	Params            []StrategyParams   `yaml:"params" validate:"min=1,dive"`
}

// Lookup 查找币种+周期的参数
func (s *StrategyConfig) Lookup(symbol, timeframe string) (StrategyParams, bool) {
	for _, p := range s.Params {
		if p.Symbol == symbol && p.Timeframe == timeframe {
			return p, true
		}
	}
	return StrategyParams{}, false
}

type VenueConfig struct {
	Name           string  `yaml:"name" validate:"oneof=okx simulated"`
	Sizing         string  `yaml:"sizing" validate:"oneof=contract continuous"`
	Protection     string  `yaml:"protection" validate:"oneof=bracket ladder"`
	HedgeMode      bool    `yaml:"hedge_mode"`
	LotStep        float64 `yaml:"lot_step" validate:"gte=0"` // 最小下单单位，0 表示按 sizing 默认(1张 / 0.000001币)
	PricePrecision int32   `yaml:"price_precision" validate:"gte=0,lte=12"`
	QuoteAsset     string  `yaml:"quote_asset" validate:"required"`
	Leverage       int     `yaml:"leverage" validate:"gte=1,lte=125"`
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	MaxPingCount int    `yaml:"max-ping-count"`
	TestMode     bool   `yaml:"test_mode"` // 固定1张
	Paper        bool   `yaml:"paper"`     // 行情用真实数据，下单走模拟盘

	// 模拟盘初始资金
	PaperBalance float64 `yaml:"paper_balance" validate:"gte=0"`

	Okx      `yaml:"okx"`
	Log      LogConfig      `yaml:"log"`
	Strategy StrategyConfig `yaml:"strategy"`
	Venue    VenueConfig    `yaml:"venue"`
}

var AppConfig Config

// Default 默认参数，yaml 中没写的字段用这里的值
func Default() Config {
	return Config{
		AppName:      "ggshot",
		Listen:       ":12180",
		Mode:         "release",
		MaxPingCount: 10,
		PaperBalance: 10000,
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Console:    true,
		},
		Strategy: StrategyConfig{
			MaxCandles:        100,
			WarmupCandles:     50,
			MaxMarginRatio:    20,
			RiskPct:           0.02,
			ProtectiveRetries: 1,
			ProtectiveDelay:   time.Second,
			RetryDelay:        500 * time.Millisecond,
			BalanceInterval:   5 * time.Minute,
			QueueSize:         64,
			MinPriceChange: map[string]float64{
				"BTCUSDT": 0.02,
				"ETHUSDT": 0.025,
				"SOLUSDT": 0.03,
			},
		},
		Venue: VenueConfig{
			Name:           "okx",
			Sizing:         "contract",
			Protection:     "ladder",
			HedgeMode:      true,
			LotStep:        0,
			PricePrecision: 2,
			QuoteAsset:     "USDT",
			Leverage:       10,
		},
	}
}

func LoadConfig(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = c
	return nil
}

// Load 读取yaml，在默认值之上覆盖，再用环境变量覆盖密钥
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config file error %w", ErrConfig, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config yaml error: %w", ErrConfig, err)
	}

	if v := os.Getenv("OKX_API_KEY"); v != "" {
		c.Okx.ApiKey = v
	}
	if v := os.Getenv("OKX_SECRET_KEY"); v != "" {
		c.Okx.SecretKey = v
	}
	if v := os.Getenv("OKX_PASSPHRASE"); v != "" {
		c.Okx.Password = v
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

var validate = validator.New()

// Validate 字段校验加上跨字段检查
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	for _, p := range c.Strategy.Params {
		if !(p.TP1 < p.TP2 && p.TP2 < p.TP3 && p.TP3 < p.TP4) {
			return fmt.Errorf("%w: %s %s take profits must be ascending", ErrConfig, p.Symbol, p.Timeframe)
		}
	}

	for _, sub := range c.Strategy.Subscriptions {
		for _, tf := range sub.Timeframes {
			if _, ok := c.Strategy.Lookup(sub.Symbol, tf); !ok {
				return fmt.Errorf("%w: no strategy params for %s %s", ErrConfig, sub.Symbol, tf)
			}
		}
	}

	for symbol, v := range c.Strategy.MinPriceChange {
		if v < 0 || v >= 1 {
			return fmt.Errorf("%w: min_price_change for %s out of range: %v", ErrConfig, symbol, v)
		}
	}

	if c.Strategy.WarmupCandles > c.Strategy.MaxCandles {
		return fmt.Errorf("%w: warmup_candles %d exceeds max_candles %d", ErrConfig, c.Strategy.WarmupCandles, c.Strategy.MaxCandles)
	}

	if c.Venue.Name == "okx" && !c.Paper {
		if c.Okx.ApiKey == "" || c.Okx.SecretKey == "" || c.Okx.Password == "" {
			return fmt.Errorf("%w: okx credentials are required unless paper is set", ErrConfig)
		}
	}
	return nil
}
