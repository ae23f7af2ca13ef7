package conf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
paper: true
strategy:
  subscriptions:
    - symbol: BTCUSDT
      timeframes: ["1H"]
  params:
    - { symbol: BTCUSDT, timeframe: 1H, in1: 2100, in2: 8, tp1: 2.3, tp2: 4.6, tp3: 6.9, tp4: 13.8, sl: 2.3 }
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 100, c.Strategy.MaxCandles)
	assert.Equal(t, 50, c.Strategy.WarmupCandles)
	assert.Equal(t, 20.0, c.Strategy.MaxMarginRatio)
	assert.Equal(t, 1, c.Strategy.ProtectiveRetries)
	assert.Equal(t, 5*time.Minute, c.Strategy.BalanceInterval)
	assert.Equal(t, 0.025, c.Strategy.MinPriceChange["ETHUSDT"])
	assert.Equal(t, "ladder", c.Venue.Protection)
	assert.Equal(t, int32(2), c.Venue.PricePrecision)
	assert.Equal(t, 500*time.Millisecond, c.Strategy.RetryDelay)
	assert.Equal(t, 0.0, c.Venue.LotStep, "sizing picks its own step")

	p, ok := c.Strategy.Lookup("BTCUSDT", "1H")
	require.True(t, ok)
	assert.Equal(t, [4]float64{2.3, 4.6, 6.9, 13.8}, p.TakeProfits())
	assert.Equal(t, 2100, p.IN1)
}

func TestShippedConfigIsValid(t *testing.T) {
	c, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Len(t, c.Strategy.Subscriptions, 3)
	assert.Equal(t, time.Second, c.Strategy.ProtectiveDelay)
	assert.Equal(t, 500*time.Millisecond, c.Strategy.RetryDelay)
	assert.Equal(t, 1.0, c.Venue.LotStep)
}

func TestParseRejects(t *testing.T) {
	t.Setenv("OKX_API_KEY", "")
	t.Setenv("OKX_SECRET_KEY", "")
	t.Setenv("OKX_PASSPHRASE", "")

	cases := map[string]string{
		"missing params row": `
paper: true
strategy:
  subscriptions: [{symbol: BTCUSDT, timeframes: ["1H", "30m"]}]
  params:
    - { symbol: BTCUSDT, timeframe: 1H, in1: 2100, tp1: 2.3, tp2: 4.6, tp3: 6.9, tp4: 13.8, sl: 2.3 }
`,
		"descending take profits": `
paper: true
strategy:
  subscriptions: [{symbol: BTCUSDT, timeframes: ["1H"]}]
  params:
    - { symbol: BTCUSDT, timeframe: 1H, in1: 2100, tp1: 4.6, tp2: 2.3, tp3: 6.9, tp4: 13.8, sl: 2.3 }
`,
		"unknown sizing": minimal + `
venue:
  sizing: martingale
`,
		"no subscriptions": `
paper: true
strategy:
  params:
    - { symbol: BTCUSDT, timeframe: 1H, in1: 2100, tp1: 2.3, tp2: 4.6, tp3: 6.9, tp4: 13.8, sl: 2.3 }
`,
		"live without credentials": `
paper: false
strategy:
  subscriptions: [{symbol: BTCUSDT, timeframes: ["1H"]}]
  params:
    - { symbol: BTCUSDT, timeframe: 1H, in1: 2100, tp1: 2.3, tp2: 4.6, tp3: 6.9, tp4: 13.8, sl: 2.3 }
`,
		"lowercase hour timeframe": `
paper: true
strategy:
  subscriptions: [{symbol: BTCUSDT, timeframes: ["1h"]}]
  params:
    - { symbol: BTCUSDT, timeframe: 1h, in1: 2100, tp1: 2.3, tp2: 4.6, tp3: 6.9, tp4: 13.8, sl: 2.3 }
`,
		"unsupported params timeframe": `
paper: true
strategy:
  subscriptions: [{symbol: BTCUSDT, timeframes: ["1H"]}]
  params:
    - { symbol: BTCUSDT, timeframe: 1H, in1: 2100, tp1: 2.3, tp2: 4.6, tp3: 6.9, tp4: 13.8, sl: 2.3 }
    - { symbol: BTCUSDT, timeframe: 5m, in1: 2100, tp1: 2.3, tp2: 4.6, tp3: 6.9, tp4: 13.8, sl: 2.3 }
`,
		"broken yaml": "strategy: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig), err.Error())
		})
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("OKX_API_KEY", "k")
	t.Setenv("OKX_SECRET_KEY", "s")
	t.Setenv("OKX_PASSPHRASE", "p")

	c, err := Parse([]byte(`
paper: false
strategy:
  subscriptions: [{symbol: BTCUSDT, timeframes: ["1H"]}]
  params:
    - { symbol: BTCUSDT, timeframe: 1H, in1: 2100, tp1: 2.3, tp2: 4.6, tp3: 6.9, tp4: 13.8, sl: 2.3 }
`))
	require.NoError(t, err)
	assert.Equal(t, "k", c.Okx.ApiKey)
	assert.Equal(t, "p", c.Okx.Password)
}

func TestLoadConfigSetsGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

	require.NoError(t, LoadConfig(path))
	assert.True(t, AppConfig.Paper)

	err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestShippedConfigTimeframeTypoRejected(t *testing.T) {
	c, err := Load("config.yaml")
	require.NoError(t, err)

	c.Strategy.Subscriptions[0].Timeframes[0] = "1h"
	for i := range c.Strategy.Params {
		if c.Strategy.Params[i].Symbol == c.Strategy.Subscriptions[0].Symbol && c.Strategy.Params[i].Timeframe == "1H" {
			c.Strategy.Params[i].Timeframe = "1h"
		}
	}
	assert.ErrorIs(t, c.Validate(), ErrConfig)
}

func TestSupportedTimeframesMatchValidation(t *testing.T) {
	for _, tf := range SupportedTimeframes {
		c := Default()
		c.Paper = true
		c.Strategy.Subscriptions = []Subscription{{Symbol: "BTCUSDT", Timeframes: []string{tf}}}
		c.Strategy.Params = []StrategyParams{{Symbol: "BTCUSDT", Timeframe: tf, IN1: 10, TP1: 1, TP2: 2, TP3: 3, TP4: 4, SL: 1}}
		assert.NoError(t, c.Validate(), tf)
	}
}
