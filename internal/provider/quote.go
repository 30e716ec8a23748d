package provider

import (
	"context"
	"math/rand"
)

var defaultQuotes = []string{
	"The best way out is always through. (Robert Frost)",
	"Make it work, then make it better. (Unknown)",
	"Fall seven times, stand up eight. (Japanese Proverb)",
	"In the middle of difficulty lies opportunity. (Einstein)",
	"Don't watch the clock; do what it does. Keep going. (Sam Levenson)",
	"If you're going through hell, keep going. (Winston Churchill)",
	"Strive not to be a success, but rather to be of value. (Einstein)",
}

func newQuote(Deps) (Provider, error) {
	return NewQuote(nil), nil
}

// NewQuote picks a random entry from quotes, or from the built-in list when empty
func NewQuote(quotes []string) Provider {
	if len(quotes) == 0 {
		quotes = defaultQuotes
	}
	return ProviderFunc(func(ctx context.Context, params map[string]string) (any, error) {
		return quotes[rand.Intn(len(quotes))], nil
	})
}
