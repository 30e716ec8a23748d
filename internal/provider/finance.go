package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/"
	defaultSymbol = "SPY"
)

// FinanceConfig locates the price history service
type FinanceConfig struct {
	BaseURL string
	Symbol  string
}

// PriceSeries is a week of hourly closes for one symbol
type PriceSeries struct {
	Symbol string    `json:"symbol"`
	Closes []float64 `json:"closes"`
}

// Last returns the most recent close
func (s PriceSeries) Last() float64 {
	if len(s.Closes) == 0 {
		return 0
	}
	return s.Closes[len(s.Closes)-1]
}

// Change returns the relative change over the series in percent
func (s PriceSeries) Change() float64 {
	if len(s.Closes) < 2 || s.Closes[0] == 0 {
		return 0
	}
	return (s.Last() - s.Closes[0]) / s.Closes[0] * 100
}

func (s PriceSeries) String() string {
	return fmt.Sprintf("%s $%.2f (%+.2f%% 7d)", s.Symbol, s.Last(), s.Change())
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type financeProvider struct {
	http *HTTPClient
	cfg  FinanceConfig
}

func newFinance(deps Deps) (Provider, error) {
	if deps.HTTP == nil {
		return nil, fmt.Errorf("%w: http client", ErrUnavailable)
	}
	return NewFinance(deps.HTTP, deps.Finance), nil
}

// NewFinance creates the price history provider. Param "symbol" overrides the
// configured ticker.
func NewFinance(client *HTTPClient, cfg FinanceConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = yahooChartURL
	}
	if cfg.Symbol == "" {
		cfg.Symbol = defaultSymbol
	}
	return &financeProvider{http: client, cfg: cfg}
}

func (p *financeProvider) Fetch(ctx context.Context, params map[string]string) (any, error) {
	symbol := strings.ToUpper(param(params, "symbol", p.cfg.Symbol))

	query := url.Values{}
	query.Set("range", "7d")
	query.Set("interval", "1h")

	var resp chartResponse
	endpoint := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/" + url.PathEscape(symbol)
	if err := p.http.GetJSON(ctx, endpoint, query, &resp); err != nil {
		return nil, err
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("chart error %s: %s", e.Code, e.Description)
	}

	series := PriceSeries{Symbol: symbol}
	for _, result := range resp.Chart.Result {
		for _, quote := range result.Indicators.Quote {
			for _, c := range quote.Close {
				if c != nil {
					series.Closes = append(series.Closes, *c)
				}
			}
		}
	}
	if len(series.Closes) == 0 {
		return nil, fmt.Errorf("%w: no data for %s", ErrEmptyResult, symbol)
	}
	return series, nil
}
