// Package kis implements the domain.Broker port against the Korea
// Investment & Securities open API (domestic stock REST endpoints).
package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// TR-IDs for the production endpoints. Paper trading swaps the leading T
// for a V on the order TRs.
const (
	trInquirePrice = "FHKST01010100"
	trMinuteChart  = "FHKST03010200"
	trOrderBuy     = "TTTC0802U"
	trOrderSell    = "TTTC0801U"
	trOrderCancel  = "TTTC0803U"
	trDailyCcld    = "TTTC8001R"
)

// chartPageSize is how many minute bars one itemchartprice call returns.
const chartPageSize = 30

// Config holds the client's credentials and limits.
type Config struct {
	BaseURL     string
	AppKey      string
	AppSecret   string
	AccountNo   string // 8-digit CANO
	AccountProd string // 2-digit product code
	Paper       bool
	MaxInFlight int64
	RateLimit   int
	RateWindow  time.Duration
	Location    *time.Location
}

// Client implements domain.Broker over the KIS REST API. All calls pass
// through a bounded in-flight semaphore and, when a limiter is supplied,
// a shared rate limit keyed "kis".
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter // optional
	sem        *semaphore.Weighted
	logger     *slog.Logger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time

	orgMu  sync.Mutex
	orgnos map[string]string // broker order no -> forwarding branch no
}

// NewClient creates a Client. limiter may be nil, in which case only the
// in-flight bound applies.
func NewClient(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Client {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    limiter,
		sem:        semaphore.NewWeighted(cfg.MaxInFlight),
		logger:     logger.With(slog.String("component", "kis")),
		orgnos:     make(map[string]string),
	}
}

// trID adjusts a production TR-ID for paper trading.
func (c *Client) trID(tr string) string {
	if c.cfg.Paper && strings.HasPrefix(tr, "T") {
		return "V" + tr[1:]
	}
	return tr
}

// acquire applies the in-flight bound and rate limit before a call.
func (c *Client) acquire(ctx context.Context) (release func(), err error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("kis: acquire slot: %w", domain.ErrContextDone)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "kis"); err != nil {
			c.sem.Release(1)
			return nil, err
		}
	}
	return func() { c.sem.Release(1) }, nil
}

// ensureToken refreshes the OAuth access token when missing or near
// expiry. Token failures are fatal: nothing works without auth.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > 5*time.Minute {
		return c.accessToken, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth2/tokenP", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("kis: token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("kis: token: %w: %v", domain.ErrFatal, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("kis: token read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kis: token HTTP %d: %w: %s", resp.StatusCode, domain.ErrFatal, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("kis: token decode: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("kis: token empty: %w", domain.ErrFatal)
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.logger.Info("access token refreshed", slog.Time("expires", c.tokenExpiry))
	return c.accessToken, nil
}

// doGet performs an authenticated GET with TR headers and query params.
func (c *Client) doGet(ctx context.Context, path, tr string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path+"?"+params.Encode(), tr, nil, out)
}

// doPost performs an authenticated POST with TR headers and a JSON body.
func (c *Client) doPost(ctx context.Context, path, tr string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kis: marshal body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, tr, payload, out)
}

func (c *Client) do(ctx context.Context, method, pathAndQuery, tr string, body []byte, out any) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+pathAndQuery, reader)
	if err != nil {
		return fmt.Errorf("kis: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("tr_id", c.trID(tr))
	req.Header.Set("custtype", "P")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kis: http: %w: %v", domain.ErrTransientData, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kis: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("kis: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kis: HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("kis: decode response: %w", err)
	}
	return nil
}

// checkEnvelope maps a non-zero rt_cd to an error.
func checkEnvelope(env apiEnvelope, op string) error {
	if env.RtCd == "0" {
		return nil
	}
	return fmt.Errorf("kis: %s: rt_cd=%s msg_cd=%s: %s", op, env.RtCd, env.MsgCd, env.Msg1)
}

// CurrentPrice implements domain.Broker.
func (c *Client) CurrentPrice(ctx context.Context, code string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", code)

	var resp priceResponse
	if err := c.doGet(ctx, "/uapi/domestic-stock/v1/quotations/inquire-price", trInquirePrice, params, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("kis: current price %s: %w", code, err)
	}
	if err := checkEnvelope(resp.apiEnvelope, "inquire-price"); err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		Code:       code,
		Price:      parseFloat(resp.Output.StckPrpr),
		ChangeRate: parseFloat(resp.Output.PrdyCtrt),
		Volume:     parseInt(resp.Output.AcmlVol),
		Time:       time.Now().In(c.cfg.Location),
	}, nil
}

// HistoricalBars implements domain.Broker. The minute-chart endpoint
// returns fixed-size pages ending at a given time, newest first, so the
// client pages backwards from `to` until `from` is covered.
func (c *Client) HistoricalBars(ctx context.Context, code string, from, to time.Time) ([]domain.Bar, error) {
	from = from.In(c.cfg.Location)
	to = to.In(c.cfg.Location)

	seen := make(map[int64]domain.Bar)
	cursor := to
	for {
		rows, err := c.minuteChartPage(ctx, code, cursor)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		oldest := cursor
		for _, b := range rows {
			if b.Time.Before(oldest) {
				oldest = b.Time
			}
			if !b.Time.Before(from) && b.Time.Before(to) {
				seen[b.Time.Unix()] = b
			}
		}
		if !oldest.After(from) || len(rows) < chartPageSize || !oldest.Before(cursor) {
			break
		}
		cursor = oldest
	}

	out := make([]domain.Bar, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// RealtimeBars implements domain.Broker: all completed bars at or after
// since, ascending.
func (c *Client) RealtimeBars(ctx context.Context, code string, since time.Time) ([]domain.Bar, error) {
	now := time.Now().In(c.cfg.Location)
	bars, err := c.HistoricalBars(ctx, code, since, now)
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// minuteChartPage fetches one page of minute bars ending at endAt.
func (c *Client) minuteChartPage(ctx context.Context, code string, endAt time.Time) ([]domain.Bar, error) {
	params := url.Values{}
	params.Set("FID_ETC_CLS_CODE", "")
	params.Set("FID_COND_MRKT_DIV_CODE", "J")
	params.Set("FID_INPUT_ISCD", code)
	params.Set("FID_INPUT_HOUR_1", endAt.Format("150405"))
	params.Set("FID_PW_DATA_INCU_YN", "N")

	var resp chartResponse
	if err := c.doGet(ctx, "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice", trMinuteChart, params, &resp); err != nil {
		return nil, fmt.Errorf("kis: minute chart %s: %w", code, err)
	}
	if err := checkEnvelope(resp.apiEnvelope, "itemchartprice"); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(resp.Output2))
	for _, row := range resp.Output2 {
		t, err := c.parseBarTime(row.BsopDate, row.CntgHour)
		if err != nil {
			continue
		}
		bars = append(bars, domain.Bar{
			Time:   t,
			Open:   parseFloat(row.Oprc),
			High:   parseFloat(row.Hgpr),
			Low:    parseFloat(row.Lwpr),
			Close:  parseFloat(row.Prpr),
			Volume: parseInt(row.CntgVol),
		})
	}
	return bars, nil
}

// parseBarTime converts date + contract hour into the bar's open time.
// The API stamps a bar with its close, one period after the open.
func (c *Client) parseBarTime(date, hhmmss string) (time.Time, error) {
	t, err := time.ParseInLocation("20060102150405", date+hhmmss, c.cfg.Location)
	if err != nil {
		return time.Time{}, err
	}
	return t.Truncate(domain.BarPeriod).Add(-domain.BarPeriod), nil
}

// PlaceOrder implements domain.Broker with a limit cash order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	tr := trOrderSell
	if req.Side == domain.OrderSideBuy {
		tr = trOrderBuy
	}
	body := map[string]string{
		"CANO":         c.cfg.AccountNo,
		"ACNT_PRDT_CD": c.cfg.AccountProd,
		"PDNO":         req.Code,
		"ORD_DVSN":     "00", // limit
		"ORD_QTY":      strconv.FormatInt(req.Quantity, 10),
		"ORD_UNPR":     strconv.FormatInt(int64(req.LimitPrice), 10),
	}

	var resp orderResponse
	if err := c.doPost(ctx, "/uapi/domestic-stock/v1/trading/order-cash", tr, body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kis: place %s %s: %w", req.Side, req.Code, err)
	}
	if resp.RtCd != "0" {
		return domain.OrderResult{
			Success:     false,
			Message:     fmt.Sprintf("%s (%s)", resp.Msg1, resp.MsgCd),
			ShouldRetry: resp.MsgCd == "EGW00201", // gateway throttle
		}, nil
	}

	c.orgMu.Lock()
	c.orgnos[resp.Output.Odno] = resp.Output.OrdOrgno
	c.orgMu.Unlock()

	return domain.OrderResult{Success: true, BrokerID: resp.Output.Odno}, nil
}

// CancelOrder implements domain.Broker, cancelling the full unfilled
// remainder.
func (c *Client) CancelOrder(ctx context.Context, brokerID string) error {
	c.orgMu.Lock()
	orgno := c.orgnos[brokerID]
	c.orgMu.Unlock()

	body := map[string]string{
		"CANO":               c.cfg.AccountNo,
		"ACNT_PRDT_CD":       c.cfg.AccountProd,
		"KRX_FWDG_ORD_ORGNO": orgno,
		"ORGN_ODNO":          brokerID,
		"ORD_DVSN":           "00",
		"RVSE_CNCL_DVSN_CD":  "02", // cancel
		"ORD_QTY":            "0",
		"ORD_UNPR":           "0",
		"QTY_ALL_ORD_YN":     "Y",
	}

	var resp orderResponse
	if err := c.doPost(ctx, "/uapi/domestic-stock/v1/trading/order-rvsecncl", trOrderCancel, body, &resp); err != nil {
		return fmt.Errorf("kis: cancel %s: %w", brokerID, err)
	}
	if resp.RtCd != "0" {
		return fmt.Errorf("kis: cancel %s: rt_cd=%s: %s", brokerID, resp.RtCd, resp.Msg1)
	}
	return nil
}

// OrderStatus implements domain.Broker via the daily fills query.
func (c *Client) OrderStatus(ctx context.Context, brokerID string) (domain.OrderStatusReport, error) {
	today := time.Now().In(c.cfg.Location).Format("20060102")
	params := url.Values{}
	params.Set("CANO", c.cfg.AccountNo)
	params.Set("ACNT_PRDT_CD", c.cfg.AccountProd)
	params.Set("INQR_STRT_DT", today)
	params.Set("INQR_END_DT", today)
	params.Set("SLL_BUY_DVSN_CD", "00")
	params.Set("INQR_DVSN", "00")
	params.Set("PDNO", "")
	params.Set("CCLD_DVSN", "00")
	params.Set("ORD_GNO_BRNO", "")
	params.Set("ODNO", brokerID)
	params.Set("INQR_DVSN_3", "00")
	params.Set("INQR_DVSN_1", "")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")

	var resp ccldResponse
	if err := c.doGet(ctx, "/uapi/domestic-stock/v1/trading/inquire-daily-ccld", trDailyCcld, params, &resp); err != nil {
		return domain.OrderStatusReport{}, fmt.Errorf("kis: order status %s: %w", brokerID, err)
	}
	if err := checkEnvelope(resp.apiEnvelope, "inquire-daily-ccld"); err != nil {
		return domain.OrderStatusReport{}, err
	}

	for _, row := range resp.Output1 {
		if strings.TrimLeft(row.Odno, "0") != strings.TrimLeft(brokerID, "0") {
			continue
		}
		filled := parseInt(row.TotCcldQty)
		report := domain.OrderStatusReport{
			BrokerID:  brokerID,
			Filled:    filled,
			Remaining: parseInt(row.RmnQty),
			Cancelled: row.CnclYn == "Y",
		}
		if amt := parseFloat(row.TotCcldAmt); filled > 0 && amt > 0 {
			report.AvgPrice = amt / float64(filled)
		}
		return report, nil
	}
	return domain.OrderStatusReport{}, fmt.Errorf("kis: order status %s: %w", brokerID, domain.ErrNotFound)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// Compile-time interface check.
var _ domain.Broker = (*Client)(nil)
