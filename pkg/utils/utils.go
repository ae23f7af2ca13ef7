package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Retry 尝试执行 fn，如果失败则重试，最多 attempts 次
// delay 是两次重试之间的间隔，backoff=true 表示指数退避
func Retry(ctx context.Context, attempts int, delay time.Duration, backoff bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if i < attempts-1 { // 最后一次就不用 sleep 了
			sleep := delay
			if backoff {
				sleep = delay * time.Duration(1<<i) // 1x,2x,4x,8x...
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled after %d attempts: %w", i+1, err)
			case <-time.After(sleep):
			}
		}
	}
	return fmt.Errorf("after %d attempts, last error: %w", attempts, err)
}

var quotes = []string{"USDT", "USDC", "USD"}

// splitSymbol BTCUSDT / BTC/USDT / BTC-USDT-SWAP -> BTC, USDT
func splitSymbol(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(strings.TrimSuffix(symbol, "-SWAP"))
	if parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' }); len(parts) == 2 {
		return parts[0], parts[1], true
	}
	for _, q := range quotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q, true
		}
	}
	return "", "", false
}

// FormatSymbol 将 BTCUSDT 转换为 goex 可识别的 BTC/USDT
func FormatSymbol(symbol string) string {
	base, quote, ok := splitSymbol(symbol)
	if !ok {
		// 没匹配到就返回原始值
		return symbol
	}
	return base + "/" + quote
}

// InstID 永续合约的okx instId，BTCUSDT -> BTC-USDT-SWAP
func InstID(symbol string) string {
	base, quote, ok := splitSymbol(symbol)
	if !ok {
		return symbol
	}
	return base + "-" + quote + "-SWAP"
}

// SymbolFromInstID BTC-USDT-SWAP -> BTCUSDT
func SymbolFromInstID(instID string) string {
	base, quote, ok := splitSymbol(instID)
	if !ok {
		return instID
	}
	return base + quote
}

// RoundPrice 四舍五入到 precision 位小数
func RoundPrice(v float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(precision).Float64()
	return f
}

// FloorToStep 向下取整到 step 的整数倍
func FloorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(step)
	f, _ := decimal.NewFromFloat(v).Div(d).Floor().Mul(d).Float64()
	return f
}

// RoundToStep 四舍五入到 step 的整数倍
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(step)
	f, _ := decimal.NewFromFloat(v).Div(d).Round(0).Mul(d).Float64()
	return f
}

// FormatFloat 下单参数使用的字符串形式，不带多余的0
func FormatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}
