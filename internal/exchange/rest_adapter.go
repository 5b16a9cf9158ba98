package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"signal-engine-go/internal/config"
)

const recvWindow = "5000" // How long a signed request is valid in milliseconds

// RestAdapter is a REST-backed Adapter for Binance-compatible exchanges.
// It performs a single attempt per call and classifies failures; the retry
// policy belongs to the caller.
type RestAdapter struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

var _ Adapter = (*RestAdapter)(nil)

// NewRestAdapter creates a rate-limited REST adapter using the given
// decrypted credentials.
func NewRestAdapter(cfg *config.Exchange, creds *Credentials, logger *zap.Logger) *RestAdapter {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.Testnet {
		logger.Warn("Using exchange testnet", zap.String("exchange", cfg.Name))
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestAdapter{
		client:    client,
		apiKey:    creds.APIKey,
		secretKey: creds.APISecret,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (a *RestAdapter) sign(data string) string {
	h := hmac.New(sha256.New, []byte(a.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest executes one rate-limited request and classifies the outcome.
func (a *RestAdapter) doRequest(ctx context.Context, method, path string, req *resty.Request) (*resty.Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, Transient("rate_limiter", "rate limiter wait failed", err)
	}

	a.logger.Debug("Executing request", zap.String("method", method), zap.String("url", a.client.BaseURL+path))
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Transient("timeout", "adapter call timed out", err)
		}
		return nil, Transient("network", "request execution failed", err)
	}
	if !resp.IsError() {
		return resp, nil
	}

	return nil, classifyStatus(resp)
}

// classifyStatus maps an HTTP error response to the transient/fatal taxonomy.
func classifyStatus(resp *resty.Response) *AdapterError {
	code := resp.StatusCode()
	body := resp.String()
	switch {
	case code == http.StatusTooManyRequests || code == 418:
		ae := Transient("rate_limited", body, nil)
		if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
			ae.RetryAfter = time.Duration(seconds) * time.Second
		}
		return ae
	case code >= 500:
		return Transient("exchange_error", body, nil)
	case code == http.StatusBadRequest:
		// Order-level rejections come back as 400 with an exchange error
		// payload. Retrying cannot change the outcome.
		return Fatal("rejected", body, nil)
	default:
		return Fatal("rejected", fmt.Sprintf("status %d: %s", code, body), nil)
	}
}

type orderResponse struct {
	OrderID          int64  `json:"orderId"`
	ClientOrderID    string `json:"clientOrderId"`
	Status           string `json:"status"`
	ExecutedQuantity string `json:"executedQty"`
	CumQuoteQty      string `json:"cummulativeQuoteQty"`
	Commission       string `json:"commission"`
}

// PlaceOrder submits a new order, forwarding the idempotency key as the
// client order id so a resubmission maps to the same exchange order.
func (a *RestAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", req.Quantity.String())
	if req.Price.Valid {
		params.Set("price", req.Price.Decimal.String())
	}
	if req.IdempotencyKey != "" {
		params.Set("newClientOrderId", req.IdempotencyKey)
	}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", a.sign(queryString))

	r := a.client.R().
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&orderResponse{})

	resp, err := a.doRequest(ctx, "POST", "/order", r)
	if err != nil {
		a.logger.Error("Failed to place order",
			zap.Error(err),
			zap.String("symbol", req.Symbol),
			zap.String("idempotency_key", req.IdempotencyKey),
		)
		return nil, err
	}

	result := resp.Result().(*orderResponse)
	return parseOrderResult(result)
}

func parseOrderResult(r *orderResponse) (*OrderResult, error) {
	filled, err := decimal.NewFromString(r.ExecutedQuantity)
	if err != nil {
		return nil, Fatal("bad_response", "unparseable executed quantity", err)
	}
	quote, err := decimal.NewFromString(r.CumQuoteQty)
	if err != nil {
		return nil, Fatal("bad_response", "unparseable quote quantity", err)
	}
	avg := decimal.Zero
	if filled.IsPositive() {
		avg = quote.Div(filled)
	}
	fee := decimal.Zero
	if r.Commission != "" {
		fee, err = decimal.NewFromString(r.Commission)
		if err != nil {
			return nil, Fatal("bad_response", "unparseable commission", err)
		}
	}
	return &OrderResult{
		ExchangeOrderID: fmt.Sprintf("%d", r.OrderID),
		Status:          r.Status,
		FilledQuantity:  filled,
		AvgFillPrice:    avg,
		Fee:             fee,
	}, nil
}

// CancelOrder cancels an open order by exchange order id.
func (a *RestAdapter) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("orderId", exchangeOrderID)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", a.sign(params.Encode()))

	r := a.client.R().
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode())

	_, err := a.doRequest(ctx, "DELETE", "/order", r)
	return err
}

type positionResponse struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Quantity   string `json:"positionAmt"`
	EntryPrice string `json:"entryPrice"`
}

// GetPosition fetches the exchange's view of current exposure on a symbol.
func (a *RestAdapter) GetPosition(ctx context.Context, symbol string) (*PositionSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("signature", a.sign(params.Encode()))

	r := a.client.R().
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&positionResponse{})

	resp, err := a.doRequest(ctx, "GET", "/position", r)
	if err != nil {
		return nil, err
	}

	result := resp.Result().(*positionResponse)
	qty, err := decimal.NewFromString(result.Quantity)
	if err != nil {
		return nil, Fatal("bad_response", "unparseable position quantity", err)
	}
	entry, err := decimal.NewFromString(result.EntryPrice)
	if err != nil {
		return nil, Fatal("bad_response", "unparseable entry price", err)
	}
	return &PositionSnapshot{
		Symbol:   result.Symbol,
		Side:     result.Side,
		Quantity: qty,
		Entry:    entry,
	}, nil
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetMarkPrice fetches the current mark price for a symbol.
func (a *RestAdapter) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	r := a.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&tickerResponse{})

	resp, err := a.doRequest(ctx, "GET", "/ticker/price", r)
	if err != nil {
		return decimal.Zero, err
	}

	result := resp.Result().(*tickerResponse)
	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, Fatal("bad_response", "unparseable ticker price", err)
	}
	return price, nil
}
