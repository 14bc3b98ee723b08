package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// CurrencyExponent returns the number of minor-unit digits for an ISO currency code.
func CurrencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// FormatMinor renders a minor-unit amount as a major-unit string, e.g. 1050 USD -> "10.50".
func FormatMinor(amount int64, currency string) string {
	exp := CurrencyExponent(currency)
	return decimal.New(amount, -exp).StringFixed(exp)
}

// ParseMajor converts a major-unit string into minor units, rejecting sub-minor precision.
func ParseMajor(s, currency string) (int64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	exp := CurrencyExponent(currency)
	minor := d.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, false
	}
	return minor.IntPart(), true
}

// SameCurrency compares currency codes case-insensitively.
func SameCurrency(a, b string) bool {
	return strings.EqualFold(a, b)
}
