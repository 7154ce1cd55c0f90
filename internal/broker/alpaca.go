package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"divetrader/internal/model"
)

// Alpaca implements Broker on the Alpaca trading and market-data APIs.
// Crypto symbols carry a slash ("BTC/USD") and are routed to the crypto
// endpoints.
type Alpaca struct {
	trading *alpaca.Client
	data    *marketdata.Client
	logger  *zap.Logger
}

func NewAlpaca(apiKey, apiSecret, baseURL string, logger *zap.Logger) *Alpaca {
	return &Alpaca{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		logger: logger,
	}
}

func isCrypto(symbol string) bool {
	return strings.Contains(symbol, "/")
}

func (a *Alpaca) PlaceOrder(ctx context.Context, symbol string, side model.TradeSide, qty decimal.Decimal) (*Order, error) {
	orderSide := alpaca.Buy
	if side == model.SideSell {
		orderSide = alpaca.Sell
	}
	tif := alpaca.Day
	if isCrypto(symbol) {
		tif = alpaca.GTC
	}
	o, err := a.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &qty,
		Side:        orderSide,
		Type:        alpaca.Market,
		TimeInForce: tif,
	})
	if err != nil {
		return nil, fmt.Errorf("place order %s %s: %w", side, symbol, err)
	}
	return convertOrder(o), nil
}

func (a *Alpaca) GetOrder(_ context.Context, id string) (*Order, error) {
	o, err := a.trading.GetOrder(id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return convertOrder(o), nil
}

func convertOrder(o *alpaca.Order) *Order {
	out := &Order{
		ID:       o.ID,
		Symbol:   o.Symbol,
		Quantity: o.Qty.Copy(),
		FilledAt: o.FilledAt,
	}
	if o.Side == alpaca.Sell {
		out.Side = model.SideSell
	} else {
		out.Side = model.SideBuy
	}
	if o.FilledAvgPrice != nil {
		out.FilledPrice = *o.FilledAvgPrice
	}
	switch o.Status {
	case "filled":
		out.Status = OrderFilled
	case "canceled", "expired", "done_for_day":
		out.Status = OrderCancelled
	case "rejected":
		out.Status = OrderRejected
	default:
		out.Status = OrderPending
	}
	return out
}

func (a *Alpaca) GetPositions(_ context.Context) ([]model.Position, error) {
	positions, err := a.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		pos := model.Position{
			Symbol:   p.Symbol,
			Quantity: p.Qty,
			AvgPrice: p.AvgEntryPrice,
			Side:     model.PositionLong,
		}
		if p.Side == "short" {
			pos.Side = model.PositionShort
		}
		if p.CurrentPrice != nil {
			pos.CurrentPrice = *p.CurrentPrice
		}
		if p.MarketValue != nil {
			pos.MarketValue = *p.MarketValue
		}
		if p.UnrealizedPL != nil {
			pos.UnrealizedPnL = *p.UnrealizedPL
		}
		out = append(out, pos)
	}
	return out, nil
}

func (a *Alpaca) GetAccount(_ context.Context) (*Account, error) {
	acct, err := a.trading.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &Account{
		Equity:      acct.Equity,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
	}, nil
}

func (a *Alpaca) GetLatestQuote(_ context.Context, symbol string) (*model.Quote, error) {
	if isCrypto(symbol) {
		q, err := a.data.GetLatestCryptoQuote(symbol, marketdata.GetLatestCryptoQuoteRequest{})
		if err != nil {
			return nil, fmt.Errorf("%w: crypto quote %s: %v", ErrDataUnavailable, symbol, err)
		}
		return &model.Quote{
			Symbol:    symbol,
			BidPrice:  decimal.NewFromFloat(q.BidPrice),
			AskPrice:  decimal.NewFromFloat(q.AskPrice),
			Timestamp: q.Timestamp,
		}, nil
	}
	q, err := a.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: quote %s: %v", ErrDataUnavailable, symbol, err)
	}
	return &model.Quote{
		Symbol:    symbol,
		BidPrice:  decimal.NewFromFloat(q.BidPrice),
		AskPrice:  decimal.NewFromFloat(q.AskPrice),
		Timestamp: q.Timestamp,
	}, nil
}

func (a *Alpaca) GetBars(_ context.Context, symbol string, tf Timeframe, start, end time.Time) ([]model.Bar, error) {
	frame := marketdata.OneDay
	if tf == Hour {
		frame = marketdata.OneHour
	}
	if isCrypto(symbol) {
		bars, err := a.data.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: frame,
			Start:     start,
			End:       end,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: crypto bars %s: %v", ErrDataUnavailable, symbol, err)
		}
		out := make([]model.Bar, 0, len(bars))
		for _, b := range bars {
			out = append(out, model.Bar{
				Symbol:    symbol,
				Open:      decimal.NewFromFloat(b.Open),
				High:      decimal.NewFromFloat(b.High),
				Low:       decimal.NewFromFloat(b.Low),
				Close:     decimal.NewFromFloat(b.Close),
				Volume:    decimal.NewFromFloat(b.Volume),
				Timestamp: b.Timestamp,
			})
		}
		return out, nil
	}
	bars, err := a.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: frame,
		Start:     start,
		End:       end,
		Feed:      "iex",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bars %s: %v", ErrDataUnavailable, symbol, err)
	}
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, model.Bar{
			Symbol:    symbol,
			Open:      decimal.NewFromFloat(b.Open),
			High:      decimal.NewFromFloat(b.High),
			Low:       decimal.NewFromFloat(b.Low),
			Close:     decimal.NewFromFloat(b.Close),
			Volume:    decimal.NewFromInt(int64(b.Volume)),
			Timestamp: b.Timestamp,
		})
	}
	return out, nil
}
