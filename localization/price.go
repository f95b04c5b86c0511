// Package localization formats plan prices for display.
package localization

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var symbolByCurrency = map[string]string{
	"AUD": "$",
	"BRL": "R$",
	"CAD": "$",
	"CHF": "CHF",
	"CNY": "¥",
	"CZK": "Kč",
	"DKK": "kr",
	"EUR": "€",
	"GBP": "£",
	"HKD": "$",
	"HUF": "Ft",
	"INR": "₹",
	"JPY": "¥",
	"KRW": "₩",
	"MXN": "$",
	"NOK": "kr",
	"NZD": "$",
	"PLN": "zł",
	"RON": "lei",
	"SEK": "kr",
	"SGD": "$",
	"TRY": "₺",
	"TWD": "NT$",
	"UAH": "₴",
	"USD": "$",
	"ZAR": "R",
}

// Currencies without minor units.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"TWD": {},
}

// PriceLabel formats an amount in minor currency units with the currency's
// symbol, in the default (English) locale.
func PriceLabel(minorUnits int64, currency string) string {
	return PriceLabelIn(language.English, minorUnits, currency)
}

// PriceLabelIn formats an amount in minor currency units for the given
// locale.
func PriceLabelIn(locale language.Tag, minorUnits int64, currency string) string {
	currency = strings.ToUpper(currency)

	decimals := 2
	amount := float64(minorUnits) / 100
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		decimals = 0
		amount = float64(minorUnits)
	}

	printer := message.NewPrinter(locale)
	formattedAmount := printer.Sprint(number.Decimal(amount, number.Scale(decimals)))

	symbol, ok := symbolByCurrency[currency]
	if !ok {
		return currency + " " + formattedAmount
	}
	return symbol + formattedAmount
}
