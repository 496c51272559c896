package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"
	"EventArb/internal/service/cache"
	xhttp "EventArb/pkg/http"

	"github.com/shopspring/decimal"
)

var (
	// ErrRejected means the exchange refused the request (HTTP 4xx).
	ErrRejected = domrepo.ErrRejected
	// ErrUnknownSymbol means exchangeInfo did not list the symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// Client talks to a Binance-compatible spot REST API.
type Client struct {
	http        *xhttp.Client
	baseURL     string
	apiKey      string
	apiSecret   string
	recvWindow  int
	filtersTTL  time.Duration
	filters     *cache.TTLCache[*models.SymbolFilters]
	prices      *PriceCache
	priceMaxAge time.Duration
	now         func() time.Time
}

type Option func(*Client)

func WithCredentials(key, secret string) Option {
	return func(c *Client) {
		c.apiKey = key
		c.apiSecret = secret
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = xhttp.NewClient(xhttp.WithTimeout(d)) }
}

func WithRecvWindow(ms int) Option {
	return func(c *Client) { c.recvWindow = ms }
}

func WithFiltersTTL(d time.Duration) Option {
	return func(c *Client) { c.filtersTTL = d }
}

// WithPriceCache makes GetPrice prefer stream prices younger than maxAge.
func WithPriceCache(pc *PriceCache, maxAge time.Duration) Option {
	return func(c *Client) {
		c.prices = pc
		c.priceMaxAge = maxAge
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http:        xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		baseURL:     strings.TrimRight(baseURL, "/"),
		recvWindow:  5000,
		filtersTTL:  time.Hour,
		filters:     cache.NewTTLCache[*models.SymbolFilters](),
		priceMaxAge: 30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice returns the last traded price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)
	if c.prices != nil {
		if p, at, ok := c.prices.Get(symbol); ok && c.now().Sub(at) < c.priceMaxAge {
			return p, nil
		}
	}

	var tp tickerPrice
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + "/api/v3/ticker/price",
		QueryParams: map[string][]string{"symbol": {symbol}},
	}, &tp)
	if err != nil {
		return decimal.Zero, c.wrap("ticker price", err)
	}
	p, err := decimal.NewFromString(tp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	return p, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			MinNotional string `json:"minNotional"`
			StepSize    string `json:"stepSize"`
			TickSize    string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// SymbolFilters returns trading rules for symbol, cached for the filters TTL.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (*models.SymbolFilters, error) {
	symbol = strings.ToUpper(symbol)
	return c.filters.GetOrLoad(symbol, c.filtersTTL, func() (*models.SymbolFilters, error) {
		var info exchangeInfo
		err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         c.baseURL + "/api/v3/exchangeInfo",
			QueryParams: map[string][]string{"symbol": {symbol}},
		}, &info)
		if err != nil {
			return nil, c.wrap("exchange info", err)
		}
		for _, s := range info.Symbols {
			if s.Symbol != symbol {
				continue
			}
			f := &models.SymbolFilters{Symbol: symbol}
			for _, raw := range s.Filters {
				switch raw.FilterType {
				case "NOTIONAL", "MIN_NOTIONAL":
					f.MinNotional = parseDecimal(raw.MinNotional)
				case "LOT_SIZE":
					f.StepSize = parseDecimal(raw.StepSize)
					f.QtyPrecision = precisionOf(f.StepSize)
				case "PRICE_FILTER":
					f.TickSize = parseDecimal(raw.TickSize)
					f.PricePrecision = precisionOf(f.TickSize)
				}
			}
			return f, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	})
}

type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// PlaceMarketOrder sends a signed MARKET order. The client order id makes
// exchange-side retries idempotent; this method itself never retries.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty decimal.Decimal, clientOrderID string) (*models.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	params.Set("newClientOrderId", clientOrderID)
	params.Set("newOrderRespType", "RESULT")
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	payload := params.Encode()

	var resp orderResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     c.baseURL + "/api/v3/order?" + payload + "&signature=" + c.sign(payload),
		Headers: map[string]string{"X-MBX-APIKEY": c.apiKey},
	}, &resp)
	if err != nil {
		return nil, c.wrap("place order", err)
	}

	res := &models.OrderResult{
		OrderID:        strconv.FormatInt(resp.OrderID, 10),
		Status:         resp.Status,
		FilledQuantity: parseDecimal(resp.ExecutedQty),
	}
	if quote := parseDecimal(resp.CummulativeQuoteQty); res.FilledQuantity.IsPositive() {
		res.AvgPrice = quote.Div(res.FilledQuantity)
	}
	return res, nil
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) wrap(op string, err error) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.ClientError() {
		return fmt.Errorf("%s: %w: %s", op, ErrRejected, se.Body)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// precisionOf returns the number of decimals in a step such as 0.00100000.
func precisionOf(step decimal.Decimal) int32 {
	s := step.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

var _ domrepo.Exchange = (*Client)(nil)
