// Package binanceclient adapts the Binance USD-M futures REST API to the
// bar source and order gateway ports.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlinesPerRequest = 1500
)

// Client implements ports.BarSource and ports.OrderGateway using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	limiter       *rate.Limiter
	symbolMap     map[string]string
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	UseTestnet        bool
	BaseURL           string // overrides the production/testnet URL when set
	Logger            ports.Logger
	RequestsPerMinute int               // REST budget; <= 0 means 1200
	Burst             int               // <= 0 means 10
	SymbolMap         map[string]string // strategy symbol -> venue symbol, e.g. BTCUSD -> BTCUSDT
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": client.BaseURL, "testnet": cfg.UseTestnet,
	})

	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 1200
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	symbolMap := make(map[string]string, len(cfg.SymbolMap))
	for k, v := range cfg.SymbolMap {
		symbolMap[strings.ToUpper(k)] = strings.ToUpper(v)
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		limiter:       rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst),
		symbolMap:     symbolMap,
	}, nil
}

// VenueSymbol maps a strategy symbol to the exchange symbol.
func (c *Client) VenueSymbol(symbol string) string {
	if v, ok := c.symbolMap[strings.ToUpper(symbol)]; ok {
		return v
	}
	return strings.ToUpper(symbol)
}

// wait blocks on the REST rate limiter.
func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2022: // New order rejected, ReduceOnly rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrNotFound
		case -2014, -2015: // API-key format invalid, or key/IP/permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041, -4047: // Margin, balance or position limits
			mappedErr = ports.ErrInsufficientFunds
		case -4003, -4014, -4015: // Quantity, price or leverage out of range
			mappedErr = ports.ErrInvalidRequest
		case -4044:
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetBars implements ports.BarSource. The newest bar may still be forming.
func (c *Client) GetBars(ctx context.Context, symbol, timeframe string, count int) ([]domain.Bar, error) {
	op := "GetBars"
	if count <= 0 {
		return []domain.Bar{}, nil
	}
	if count > maxKlinesPerRequest {
		count = maxKlinesPerRequest
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	klines, err := c.futuresClient.NewKlinesService().
		Symbol(c.VenueSymbol(symbol)).
		Interval(timeframe).
		Limit(count).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return c.translateKlines(ctx, klines, op)
}

// GetBarsRange fetches all bars between start and end, paging through the API.
func (c *Client) GetBarsRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Bar, error) {
	op := "GetBarsRange"
	var all []domain.Bar
	from := start

	for {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(c.VenueSymbol(symbol)).
			Interval(timeframe).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		bars, err := c.translateKlines(ctx, klines, op)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)

		from = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesPerRequest {
			break
		}
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "timeframe": timeframe, "bars": len(all)})
	return all, nil
}

func (c *Client) translateKlines(ctx context.Context, klines []*futures.Kline, op string) ([]domain.Bar, error) {
	bars := make([]domain.Bar, 0, len(klines))
	for _, bk := range klines {
		b, err := translateBinanceKline(bk)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// PlaceOrder implements ports.OrderGateway with a market order.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.Fill, error) {
	op := "PlaceOrder"
	if req.Volume <= 0 {
		return nil, fmt.Errorf("%s failed: %w: volume must be positive", op, ports.ErrInvalidRequest)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(c.VenueSymbol(req.Symbol)).
		Side(futures.SideType(req.Side.OrderSide())).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(req.Volume)).
		NewClientOrderID(clientOrderID(req.StrategyTag)).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fill := translateFill(order, req.Price)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "orderID": fill.Ticket, "price": fill.Price, "comment": req.Comment,
	})
	return fill, nil
}

// ClosePosition implements ports.PositionCloser with a reduce-only market order.
func (c *Client) ClosePosition(ctx context.Context, pos *domain.Position, reason domain.CloseReason, price float64) (*ports.Fill, error) {
	op := "ClosePosition"
	closeSide := domain.Short
	if pos.Side == domain.Short {
		closeSide = domain.Long
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(c.VenueSymbol(pos.Symbol)).
		Side(futures.SideType(closeSide.OrderSide())).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(pos.Volume)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fill := translateFill(order, price)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"ticket": pos.ID, "symbol": pos.Symbol, "reason": reason, "orderID": fill.Ticket, "price": fill.Price,
	})
	return fill, nil
}

// --- Translation Helpers ---

func formatQuantity(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// clientOrderID stamps the strategy tag on the order so fills can be traced.
func clientOrderID(tag string) string {
	id := fmt.Sprintf("vwap-%s-%d", tag, time.Now().UnixNano())
	if len(id) > 36 {
		id = id[:36]
	}
	return id
}

func translateFill(order *futures.CreateOrderResponse, fallbackPrice float64) *ports.Fill {
	price, err := strconv.ParseFloat(order.AvgPrice, 64)
	if err != nil || price <= 0 {
		price = fallbackPrice
	}
	fill := &ports.Fill{Ticket: order.OrderID, Price: price}
	if order.UpdateTime > 0 {
		fill.Time = time.UnixMilli(order.UpdateTime).UTC()
	}
	return fill
}

func translateBinanceKline(bk *futures.Kline) (domain.Bar, error) {
	if bk == nil {
		return domain.Bar{}, errors.New("received nil historical kline")
	}
	fields := [5]string{bk.Open, bk.High, bk.Low, bk.Close, bk.Volume}
	var vals [5]float64
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("parsing kline field %d '%s': %w", i, s, err)
		}
		vals[i] = v
	}
	return domain.Bar{
		Time:   time.UnixMilli(bk.OpenTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

var (
	_ ports.BarSource    = (*Client)(nil)
	_ ports.OrderGateway = (*Client)(nil)
)
