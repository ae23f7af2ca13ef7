package okx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ggshot/internal/exchange"

	json "github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// okx的公开接口，不需要apikey
type PublicClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewPublicClient(baseURL string) *PublicClient {
	if baseURL == "" {
		baseURL = "https://www.okx.com/api/v5"
	}
	return &PublicClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetServerTime 交易所时间，毫秒
func (c *PublicClient) GetServerTime(ctx context.Context) (int64, error) {
	var rows []struct {
		Ts interface{} `json:"ts"`
	}
	if err := c.doPublicGet(ctx, exchange.OpServerTime, "/public/time", &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, exchange.DataIntegrity(exchange.OpServerTime, fmt.Errorf("empty data"))
	}
	ts, err := cast.ToInt64E(rows[0].Ts)
	if err != nil || ts <= 0 {
		return 0, exchange.DataIntegrity(exchange.OpServerTime, fmt.Errorf("bad ts %v: %w", rows[0].Ts, err))
	}
	return ts, nil
}

// doPublicGet 执行通用的 GET 请求
// 网络错误和5xx为 Transient，code!=0 为 Rejected，解析失败为 DataIntegrity
func (c *PublicClient) doPublicGet(ctx context.Context, op, endpoint string, result interface{}) error {
	url := fmt.Sprintf("%s%s", c.baseURL, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return exchange.Transient(op, fmt.Errorf("创建请求失败: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exchange.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return exchange.Transient(op, fmt.Errorf("http status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return exchange.Rejected(op, fmt.Sprint(resp.StatusCode), http.StatusText(resp.StatusCode))
	}

	// {"code":"0", "msg":"", "data":[...]}
	var apiResponse struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return exchange.DataIntegrity(op, err)
	}
	if apiResponse.Code != "0" {
		return exchange.Rejected(op, apiResponse.Code, apiResponse.Msg)
	}
	if err := json.Unmarshal(apiResponse.Data, result); err != nil {
		return exchange.DataIntegrity(op, err)
	}
	return nil
}
