package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"orderengine/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const bybitCategory = "linear"

// BybitClient talks to the v5 unified trading API (linear perpetuals).
// The signature covers timestamp + apiKey + recvWindow + (query string | JSON body).
type BybitClient struct {
	apiKey     string
	apiSecret  string
	recvWindow int64 // ms
	quoteAsset string

	http    *resty.Client
	limiter *rate.Limiter
	clock   *serverClock
	log     *logger.Entry

	// market orders are acknowledged before they fill; poll for the final state
	fillPollAttempts int
	fillPollDelay    time.Duration
}

var _ Adapter = (*BybitClient)(nil)

func NewBybitClient(baseURL string, creds Credentials, opts Options) *BybitClient {
	opts = opts.withDefaults()
	if baseURL == "" {
		baseURL = "https://api-testnet.bybit.com"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	return &BybitClient{
		apiKey:     creds.APIKey,
		apiSecret:  creds.APISecret,
		recvWindow: opts.RecvWindow.Milliseconds(),
		quoteAsset: opts.QuoteAsset,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(opts.Timeout),
		limiter:          opts.limiter(),
		clock:            newServerClock(),
		log:              logger.WithFields(map[string]interface{}{"component": "connector", "venue": model.VenueBybit}),
		fillPollAttempts: 5,
		fillPollDelay:    200 * time.Millisecond,
	}
}

func (c *BybitClient) Venue() model.Venue { return model.VenueBybit }

type bybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

func (c *BybitClient) sign(req *resty.Request, params string) {
	ts := c.clock.Millis()
	req.SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", strconv.FormatInt(ts, 10)).
		SetHeader("X-BAPI-RECV-WINDOW", strconv.FormatInt(c.recvWindow, 10)).
		SetHeader("X-BAPI-SIGN-TYPE", "2").
		SetHeader("X-BAPI-SIGN", SignBybit(c.apiSecret, ts, c.apiKey, c.recvWindow, params))
}

func (c *BybitClient) doGet(ctx context.Context, path string, params url.Values, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(model.VenueBybit, err)
	}
	query := params.Encode()
	req := c.http.R().SetContext(ctx)
	if signed {
		c.sign(req, query)
	}
	target := path
	if query != "" {
		target += "?" + query
	}
	resp, err := req.Get(target)
	return c.afterSigned(ctx, c.decode(resp, err, out))
}

func (c *BybitClient) doPost(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(model.VenueBybit, err)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(raw)
	c.sign(req, string(raw))

	resp, err := req.Post(path)
	return c.afterSigned(ctx, c.decode(resp, err, out))
}

func (c *BybitClient) afterSigned(ctx context.Context, err error) error {
	if exErr, ok := AsExchangeError(err); ok && exErr.Code == bybitCodeTimestamp {
		if syncErr := c.syncTime(ctx); syncErr != nil {
			c.log.WithError(syncErr).Warn("server time resync failed")
		}
	}
	return err
}

func (c *BybitClient) decode(resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return transportError(model.VenueBybit, err)
	}

	raw := resp.Body()
	status := resp.StatusCode()

	var env bybitResponse
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
		kind, ok := statusKind(status)
		if !ok {
			kind = KindUnknown
		}
		return &ExchangeError{Venue: model.VenueBybit, Kind: kind, Message: strings.TrimSpace(string(raw)), HTTPStatus: status}
	}

	if env.RetCode != 0 {
		info := lookupCode(bybitErrorCodes, env.RetCode)
		exErr := &ExchangeError{Venue: model.VenueBybit, Kind: info.Kind, Code: env.RetCode, Message: env.RetMsg, HTTPStatus: status}
		if env.RetCode == bybitCodeServerError && exErr.HTTPStatus < 500 {
			exErr.HTTPStatus = http.StatusServiceUnavailable
		}
		return exErr
	}
	if status != http.StatusOK {
		kind, ok := statusKind(status)
		if !ok {
			kind = KindUnknown
		}
		return &ExchangeError{Venue: model.VenueBybit, Kind: kind, Message: env.RetMsg, HTTPStatus: status}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &ExchangeError{Venue: model.VenueBybit, Kind: KindUnknown, Message: "decode result: " + err.Error(), HTTPStatus: status, Err: err}
	}
	return nil
}

func (c *BybitClient) syncTime(ctx context.Context) error {
	var out struct {
		TimeSecond string `json:"timeSecond"`
		TimeNano   string `json:"timeNano"`
	}
	if err := c.doGet(ctx, "/v5/market/time", url.Values{}, false, &out); err != nil {
		return err
	}
	nanos, err := strconv.ParseInt(out.TimeNano, 10, 64)
	if err != nil {
		return fmt.Errorf("parse bybit server time %q: %w", out.TimeNano, err)
	}
	c.clock.Sync(nanos / int64(time.Millisecond))
	c.log.WithField("offset", c.clock.Offset().String()).Debug("server time synced")
	return nil
}

func (c *BybitClient) Probe(ctx context.Context) error {
	if err := c.syncTime(ctx); err != nil {
		return err
	}

	var info struct {
		ReadOnly    int                 `json:"readOnly"`
		Permissions map[string][]string `json:"permissions"`
	}
	if err := c.doGet(ctx, "/v5/user/query-api", url.Values{}, true, &info); err != nil {
		return err
	}
	if info.ReadOnly == 1 {
		return &ExchangeError{Venue: model.VenueBybit, Kind: KindPermissionDenied, Message: "API key is read-only"}
	}
	if perms, ok := info.Permissions["ContractTrade"]; ok && len(perms) == 0 {
		return &ExchangeError{Venue: model.VenueBybit, Kind: KindPermissionDenied, Message: "API key has no contract trade permission"}
	}
	return nil
}

func (c *BybitClient) FetchBalance(ctx context.Context) (*Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	var out struct {
		List []struct {
			TotalEquity           jsonDecimal `json:"totalEquity"`
			TotalAvailableBalance jsonDecimal `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := c.doGet(ctx, "/v5/account/wallet-balance", params, true, &out); err != nil {
		return nil, err
	}
	if len(out.List) == 0 {
		return &Balance{Asset: c.quoteAsset, Available: decimal.Zero, Total: decimal.Zero}, nil
	}
	acct := out.List[0]
	return &Balance{Asset: c.quoteAsset, Available: acct.TotalAvailableBalance.Decimal, Total: acct.TotalEquity.Decimal}, nil
}

func (c *BybitClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return nil
	}
	lev := strconv.Itoa(leverage)
	err := c.doPost(ctx, "/v5/position/set-leverage", map[string]interface{}{
		"category":     bybitCategory,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, nil)
	if exErr, ok := AsExchangeError(err); ok && exErr.Code == bybitCodeLeverageNotMod {
		return nil
	}
	return err
}

type bybitOrder struct {
	OrderID     string      `json:"orderId"`
	OrderLinkID string      `json:"orderLinkId"`
	OrderStatus string      `json:"orderStatus"`
	AvgPrice    jsonDecimal `json:"avgPrice"`
	CumExecQty  jsonDecimal `json:"cumExecQty"`
	CumExecFee  jsonDecimal `json:"cumExecFee"`
	UpdatedTime string      `json:"updatedTime"`
}

func (o bybitOrder) toResult() *ExecutionResult {
	res := &ExecutionResult{
		VenueOrderID:   o.OrderID,
		ClientOrderID:  o.OrderLinkID,
		Status:         bybitStatus(o.OrderStatus),
		FilledQuantity: o.CumExecQty.Decimal,
		AvgPrice:       o.AvgPrice.Decimal,
		Commission:     o.CumExecFee.Decimal,
	}
	if ms, err := strconv.ParseInt(o.UpdatedTime, 10, 64); err == nil {
		res.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return res
}

func bybitStatus(s string) OrderStatus {
	switch s {
	case "New", "Created", "Untriggered", "Triggered", "Active":
		return OrderStatusNew
	case "PartiallyFilled":
		return OrderStatusPartiallyFilled
	case "Filled":
		return OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return OrderStatusCanceled
	default:
		return OrderStatusRejected
	}
}

func bybitSide(s model.Side) string {
	if s == model.SideShort {
		return "Sell"
	}
	return "Buy"
}

func (c *BybitClient) SubmitOrder(ctx context.Context, p OrderParams) (*ExecutionResult, error) {
	body := map[string]interface{}{
		"category":    bybitCategory,
		"symbol":      p.Symbol,
		"side":        bybitSide(p.Side),
		"qty":         p.Quantity.String(),
		"orderLinkId": p.ClientOrderID,
		"reduceOnly":  p.ReduceOnly,
	}
	switch p.Kind {
	case model.OrderKindLimit:
		if p.Price == nil {
			return nil, fmt.Errorf("limit order %s requires a price", p.ClientOrderID)
		}
		body["orderType"] = "Limit"
		body["price"] = p.Price.String()
		body["timeInForce"] = "IOC"
	default:
		body["orderType"] = "Market"
	}

	var ack struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	err := c.doPost(ctx, "/v5/order/create", body, &ack)
	if exErr, ok := AsExchangeError(err); ok && exErr.Code == bybitCodeDuplicateLinkID {
		c.log.WithField("client_order_id", p.ClientOrderID).Info("duplicate order link id, loading existing order")
	} else if err != nil {
		return nil, err
	}

	res, err := c.awaitFinal(ctx, p.Symbol, p.ClientOrderID)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(map[string]interface{}{
		"symbol":          p.Symbol,
		"client_order_id": p.ClientOrderID,
		"status":          res.Status,
		"filled":          res.FilledQuantity.String(),
	}).Info("order submitted")

	return res, nil
}

// awaitFinal polls the order until the venue reports a final state or attempts run out.
func (c *BybitClient) awaitFinal(ctx context.Context, symbol, clientOrderID string) (*ExecutionResult, error) {
	var (
		res *ExecutionResult
		err error
	)
	for i := 0; i < c.fillPollAttempts; i++ {
		res, err = c.QueryOrder(ctx, symbol, clientOrderID)
		if err == nil && res.Final() {
			return res, nil
		}
		if err != nil && !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		if i < c.fillPollAttempts-1 && c.fillPollDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, transportError(model.VenueBybit, ctx.Err())
			case <-time.After(c.fillPollDelay):
			}
		}
	}
	if err != nil {
		return nil, &ExchangeError{Venue: model.VenueBybit, Kind: KindTimeout, Message: "order " + clientOrderID + " not visible yet", Err: err}
	}
	return res, nil
}

func (c *BybitClient) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*ExecutionResult, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", symbol)
	params.Set("orderLinkId", clientOrderID)

	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		var out struct {
			List []bybitOrder `json:"list"`
		}
		if err := c.doGet(ctx, path, params, true, &out); err != nil {
			return nil, err
		}
		if len(out.List) > 0 {
			return out.List[0].toResult(), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (c *BybitClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	err := c.doPost(ctx, "/v5/order/cancel", map[string]interface{}{
		"category":    bybitCategory,
		"symbol":      symbol,
		"orderLinkId": clientOrderID,
	}, nil)
	if exErr, ok := AsExchangeError(err); ok && exErr.Code == bybitCodeOrderNotExists {
		return nil
	}
	return err
}

func (c *BybitClient) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", symbol)

	var out struct {
		List []struct {
			LastPrice jsonDecimal `json:"lastPrice"`
		} `json:"list"`
	}
	if err := c.doGet(ctx, "/v5/market/tickers", params, false, &out); err != nil {
		return decimal.Zero, err
	}
	if len(out.List) == 0 {
		return decimal.Zero, &ExchangeError{Venue: model.VenueBybit, Kind: KindUnknown, Message: "no ticker for " + symbol}
	}
	return out.List[0].LastPrice.Decimal, nil
}
