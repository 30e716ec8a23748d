package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	newsAPIURL     = "https://newsapi.org/v2/top-headlines"
	maxHeadlines   = 5
	defaultCountry = "us"
)

var sampleHeadlines = []string{
	"Tech: Raspberry Pi 5 now available with improved performance",
	"Weather: Sunny skies expected for the weekend",
	"Local: Community garden project receives funding",
	"Sports: Local team wins championship game",
	"Science: New AI developments in machine learning",
}

// NewsConfig selects the headline source. Without an API key the in-memory
// headline list is served.
type NewsConfig struct {
	BaseURL   string
	APIKey    string
	Country   string
	Headlines []string
}

// Headlines is an ordered list of at most five titles
type Headlines []string

func (h Headlines) String() string {
	var b strings.Builder
	for i, title := range h {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(title)
	}
	return b.String()
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title string `json:"title"`
	} `json:"articles"`
}

type newsProvider struct {
	http *HTTPClient
	cfg  NewsConfig
}

func newNews(deps Deps) (Provider, error) {
	if deps.News.APIKey != "" && deps.HTTP == nil {
		return nil, fmt.Errorf("%w: http client", ErrUnavailable)
	}
	return NewNews(deps.HTTP, deps.News), nil
}

// NewNews creates the headline provider
func NewNews(client *HTTPClient, cfg NewsConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = newsAPIURL
	}
	if cfg.Country == "" {
		cfg.Country = defaultCountry
	}
	if len(cfg.Headlines) == 0 {
		cfg.Headlines = sampleHeadlines
	}
	return &newsProvider{http: client, cfg: cfg}
}

func (p *newsProvider) Fetch(ctx context.Context, params map[string]string) (any, error) {
	if p.cfg.APIKey == "" || p.http == nil {
		return limitHeadlines(p.cfg.Headlines), nil
	}

	query := url.Values{}
	query.Set("country", param(params, "country", p.cfg.Country))
	query.Set("pageSize", strconv.Itoa(maxHeadlines))

	var resp newsAPIResponse
	if err := p.http.GetJSON(ctx, p.cfg.BaseURL, query, &resp, WithHeader("X-Api-Key", p.cfg.APIKey)); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "ok" {
		return nil, fmt.Errorf("news API error: %s", resp.Message)
	}

	titles := make([]string, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if a.Title == "" {
			titles = append(titles, "No title")
			continue
		}
		titles = append(titles, a.Title)
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("%w: no headlines", ErrEmptyResult)
	}
	return limitHeadlines(titles), nil
}

func limitHeadlines(titles []string) Headlines {
	if len(titles) > maxHeadlines {
		titles = titles[:maxHeadlines]
	}
	out := make(Headlines, len(titles))
	copy(out, titles)
	return out
}
