package connectors

import (
	"context"
	"encoding/json"
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

// BinanceClient talks to the USD-M futures REST API.
// Signed requests carry every parameter in the query string, sorted by key,
// with recvWindow and timestamp included and the signature appended last.
type BinanceClient struct {
	apiKey     string
	apiSecret  string
	recvWindow int64 // ms
	quoteAsset string

	http    *resty.Client
	limiter *rate.Limiter
	clock   *serverClock
	log     *logger.Entry
}

var _ Adapter = (*BinanceClient)(nil)

func NewBinanceClient(baseURL string, creds Credentials, opts Options) *BinanceClient {
	opts = opts.withDefaults()
	if baseURL == "" {
		baseURL = "https://testnet.binancefuture.com"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	return &BinanceClient{
		apiKey:     creds.APIKey,
		apiSecret:  creds.APISecret,
		recvWindow: opts.RecvWindow.Milliseconds(),
		quoteAsset: opts.QuoteAsset,
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(opts.Timeout),
		limiter: opts.limiter(),
		clock:   newServerClock(),
		log:     logger.WithFields(map[string]interface{}{"component": "connector", "venue": model.VenueBinance}),
	}
}

func (c *BinanceClient) Venue() model.Venue { return model.VenueBinance }

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *BinanceClient) doSigned(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(model.VenueBinance, err)
	}
	if params == nil {
		params = url.Values{}
	}
	query := binanceSignedQuery(params, c.clock.Millis(), c.recvWindow, c.apiSecret)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		Execute(method, path+"?"+query)

	err = c.decode(resp, err, out)
	if exErr, ok := AsExchangeError(err); ok && exErr.Code == binanceCodeTimestamp {
		if syncErr := c.syncTime(ctx); syncErr != nil {
			c.log.WithError(syncErr).Warn("server time resync failed")
		}
	}
	return err
}

func (c *BinanceClient) doPublic(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(model.VenueBinance, err)
	}
	req := c.http.R().SetContext(ctx)
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	resp, err := req.Get(target)
	return c.decode(resp, err, out)
}

func (c *BinanceClient) decode(resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return transportError(model.VenueBinance, err)
	}

	raw := resp.Body()
	status := resp.StatusCode()

	if status != http.StatusOK {
		var apiErr binanceAPIError
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.Code != 0 {
			info := lookupCode(binanceErrorCodes, apiErr.Code)
			kind := info.Kind
			if kind == KindUnknown {
				if k, ok := statusKind(status); ok && k != KindUnknown {
					kind = k
				}
			}
			return &ExchangeError{Venue: model.VenueBinance, Kind: kind, Code: apiErr.Code, Message: apiErr.Msg, HTTPStatus: status}
		}
		kind, ok := statusKind(status)
		if !ok {
			kind = KindUnknown
		}
		return &ExchangeError{Venue: model.VenueBinance, Kind: kind, Message: strings.TrimSpace(string(raw)), HTTPStatus: status}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ExchangeError{Venue: model.VenueBinance, Kind: KindUnknown, Message: "decode response: " + err.Error(), HTTPStatus: status, Err: err}
	}
	return nil
}

func (c *BinanceClient) syncTime(ctx context.Context) error {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.doPublic(ctx, "/fapi/v1/time", nil, &out); err != nil {
		return err
	}
	c.clock.Sync(out.ServerTime)
	c.log.WithField("offset", c.clock.Offset().String()).Debug("server time synced")
	return nil
}

func (c *BinanceClient) Probe(ctx context.Context) error {
	if err := c.syncTime(ctx); err != nil {
		return err
	}

	var account struct {
		CanTrade bool `json:"canTrade"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/account", nil, &account); err != nil {
		return err
	}
	if !account.CanTrade {
		return &ExchangeError{Venue: model.VenueBinance, Kind: KindPermissionDenied, Message: "account cannot trade futures"}
	}
	return nil
}

func (c *BinanceClient) FetchBalance(ctx context.Context) (*Balance, error) {
	var rows []struct {
		Asset            string      `json:"asset"`
		Balance          jsonDecimal `json:"balance"`
		AvailableBalance jsonDecimal `json:"availableBalance"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", nil, &rows); err != nil {
		return nil, err
	}

	for _, r := range rows {
		if strings.EqualFold(r.Asset, c.quoteAsset) {
			return &Balance{Asset: r.Asset, Available: r.AvailableBalance.Decimal, Total: r.Balance.Decimal}, nil
		}
	}
	return &Balance{Asset: c.quoteAsset, Available: decimal.Zero, Total: decimal.Zero}, nil
}

func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return nil
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params, nil)
}

type binanceOrder struct {
	OrderID       int64       `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Status        string      `json:"status"`
	ExecutedQty   jsonDecimal `json:"executedQty"`
	AvgPrice      jsonDecimal `json:"avgPrice"`
	UpdateTime    int64       `json:"updateTime"`
}

func (o binanceOrder) toResult() *ExecutionResult {
	return &ExecutionResult{
		VenueOrderID:   strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:  o.ClientOrderID,
		Status:         binanceStatus(o.Status),
		FilledQuantity: o.ExecutedQty.Decimal,
		AvgPrice:       o.AvgPrice.Decimal,
		UpdatedAt:      time.UnixMilli(o.UpdateTime).UTC(),
	}
}

func binanceStatus(s string) OrderStatus {
	switch s {
	case "NEW":
		return OrderStatusNew
	case "PARTIALLY_FILLED":
		return OrderStatusPartiallyFilled
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED":
		return OrderStatusCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderStatusExpired
	default:
		return OrderStatusRejected
	}
}

func binanceSide(s model.Side) string {
	if s == model.SideShort {
		return "SELL"
	}
	return "BUY"
}

func (c *BinanceClient) SubmitOrder(ctx context.Context, p OrderParams) (*ExecutionResult, error) {
	params := url.Values{}
	params.Set("symbol", p.Symbol)
	params.Set("side", binanceSide(p.Side))
	params.Set("quantity", p.Quantity.String())
	params.Set("newClientOrderId", p.ClientOrderID)
	params.Set("newOrderRespType", "RESULT")
	if p.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	switch p.Kind {
	case model.OrderKindLimit:
		if p.Price == nil {
			return nil, fmt.Errorf("limit order %s requires a price", p.ClientOrderID)
		}
		params.Set("type", "LIMIT")
		params.Set("price", p.Price.String())
		params.Set("timeInForce", "IOC")
	default:
		params.Set("type", "MARKET")
	}

	var order binanceOrder
	err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params, &order)
	if exErr, ok := AsExchangeError(err); ok && exErr.Code == binanceCodeDuplicateClID {
		c.log.WithField("client_order_id", p.ClientOrderID).Info("duplicate client order id, loading existing order")
		return c.QueryOrder(ctx, p.Symbol, p.ClientOrderID)
	}
	if err != nil {
		return nil, err
	}

	res := order.toResult()
	if res.FilledQuantity.GreaterThan(decimal.Zero) {
		res.Commission = c.commission(ctx, p.Symbol, order.OrderID)
	}

	c.log.WithFields(map[string]interface{}{
		"symbol":          p.Symbol,
		"client_order_id": p.ClientOrderID,
		"status":          res.Status,
		"filled":          res.FilledQuantity.String(),
	}).Info("order submitted")

	return res, nil
}

// commission sums fees of the order's fills. Failures only lose the fee backfill.
func (c *BinanceClient) commission(ctx context.Context, symbol string, orderID int64) decimal.Decimal {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var trades []struct {
		Commission jsonDecimal `json:"commission"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/userTrades", params, &trades); err != nil {
		c.log.WithError(err).WithField("order_id", orderID).Warn("commission lookup failed")
		return decimal.Zero
	}

	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.Commission.Decimal)
	}
	return total
}

func (c *BinanceClient) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*ExecutionResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var order binanceOrder
	if err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params, &order); err != nil {
		if exErr, ok := AsExchangeError(err); ok && exErr.Code == binanceCodeNoSuchOrder {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	res := order.toResult()
	if res.FilledQuantity.GreaterThan(decimal.Zero) {
		res.Commission = c.commission(ctx, symbol, order.OrderID)
	}
	return res, nil
}

func (c *BinanceClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params, nil)
	if exErr, ok := AsExchangeError(err); ok &&
		(exErr.Code == binanceCodeUnknownOrder || exErr.Code == binanceCodeNoSuchOrder) {
		return nil
	}
	return err
}

func (c *BinanceClient) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out struct {
		Price jsonDecimal `json:"price"`
	}
	if err := c.doPublic(ctx, "/fapi/v1/ticker/price", params, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Price.Decimal, nil
}
