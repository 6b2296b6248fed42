// 文件: pkg/oracle/coingecko.go
// CoinGecko 历史行情抓取客户端
//
// 【职责】
// 1. 查询可用币种列表
// 2. 按时间区间下载某币种的历史价格 (market_chart/range)
// 3. 转换成 Quote 序列交给仓库入库
//
// 重试/退避都在这一层处理完，核心引擎永远只看到下载好的序列

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	coingeckoBaseURL = "https://api.coingecko.com/api/v3"

	// 免费 API 有限流，失败后指数退避重试
	maxRetries     = 3
	retryBaseDelay = 2 * time.Second
)

// CoinGeckoClient CoinGecko REST 客户端
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client
	vsCurrency Currency // 参考货币，一般是 "usd"
}

// NewCoinGeckoClient 创建客户端
func NewCoinGeckoClient(vsCurrency Currency) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL:    coingeckoBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		vsCurrency: vsCurrency,
	}
}

// NewCoinGeckoClientWithBaseURL 指定 baseURL (测试用)
func NewCoinGeckoClientWithBaseURL(baseURL string, vsCurrency Currency) *CoinGeckoClient {
	c := NewCoinGeckoClient(vsCurrency)
	c.baseURL = baseURL
	return c
}

// =============================================================================
// API 响应结构
// =============================================================================

type coinListEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type marketChartResponse struct {
	// [[timestamp_ms, price], ...]
	Prices [][2]float64 `json:"prices"`
}

// =============================================================================
// 接口方法
// =============================================================================

// CoinIDs 查询全部可用币种 id
func (c *CoinGeckoClient) CoinIDs(ctx context.Context) ([]Currency, error) {
	body, err := c.get(ctx, "/coins/list", nil)
	if err != nil {
		return nil, err
	}

	var entries []coinListEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode coin list: %w", err)
	}

	ids := make([]Currency, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, Currency(e.ID))
	}
	return ids, nil
}

// MarketChartRange 下载 [from, to] 区间的历史价格 (Unix 秒)
//
// 返回按时间升序的 Quote 序列
func (c *CoinGeckoClient) MarketChartRange(ctx context.Context, coin Currency, from, to int64) ([]Quote, error) {
	params := url.Values{}
	params.Set("vs_currency", string(c.vsCurrency))
	params.Set("from", fmt.Sprintf("%d", from))
	params.Set("to", fmt.Sprintf("%d", to))

	path := fmt.Sprintf("/coins/%s/market_chart/range", coin)
	body, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}

	var resp marketChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode market chart: %w", err)
	}

	quotes := make([]Quote, 0, len(resp.Prices))
	for _, point := range resp.Prices {
		quotes = append(quotes, Quote{
			Coin:       string(coin),
			VsCurrency: string(c.vsCurrency),
			Timestamp:  int64(point[0]) / 1000, // API 返回毫秒
			Price:      point[1],
		})
	}
	return quotes, nil
}

// =============================================================================
// HTTP 底层
// =============================================================================

// get 带重试的 GET 请求
func (c *CoinGeckoClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			log.Printf("[CoinGecko] Retry %d for %s after %v: %v", attempt, path, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.doGet(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("coingecko request failed after %d retries: %w", maxRetries, lastErr)
}

func (c *CoinGeckoClient) doGet(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// 读一小段 body 方便排错
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}

	return io.ReadAll(resp.Body)
}
