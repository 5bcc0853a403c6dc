package enums

import "fmt"

// Currency maps to the currency column (ISO 4217 subset we settle in).
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyNGN Currency = "NGN"
	CurrencyKES Currency = "KES"
	CurrencyGHS Currency = "GHS"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyEUR,
	CurrencyNGN,
	CurrencyKES,
	CurrencyGHS,
}

// IsValid reports whether the value matches a supported settlement currency.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCurrency converts raw input into Currency.
func ParseCurrency(value string) (Currency, error) {
	for _, candidate := range validCurrencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
