package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CryptoCurrency is catalog reference data owned by the upstream pricing
// collaborator. Read-only here; rates are time-sensitive and fetched on
// demand rather than cached.
type CryptoCurrency struct {
	Code                  string          `json:"code"`
	Name                  string          `json:"name"`
	Decimals              int32           `json:"decimals"`
	Enabled               bool            `json:"enabled"`
	MinAmount             decimal.Decimal `json:"minAmount"`
	MaxAmount             decimal.Decimal `json:"maxAmount"`
	Network               string          `json:"network"`
	URIScheme             string          `json:"uriScheme"`
	ConfirmationsRequired int             `json:"confirmationsRequired"`
}

// ConvertUsdCents converts a USD cent amount to a crypto amount at the
// given rate (USD cents per whole coin), truncated to the currency's
// decimal places. Truncation rather than rounding so the quoted amount
// never exceeds the USD value.
func ConvertUsdCents(amountUsdCents, rateUsdCents int64, decimals int32) (decimal.Decimal, error) {
	if rateUsdCents <= 0 {
		return decimal.Zero, fmt.Errorf("invalid exchange rate %d", rateUsdCents)
	}
	amount := decimal.NewFromInt(amountUsdCents).
		DivRound(decimal.NewFromInt(rateUsdCents), decimals+4).
		Truncate(decimals)
	return amount, nil
}

// PaymentURIFor builds the QR-encodable payment URI for an amount sent
// to an address of this currency, e.g. "bitcoin:bc1...?amount=0.00049983".
func (c CryptoCurrency) PaymentURIFor(address string, amount decimal.Decimal) string {
	return fmt.Sprintf("%s:%s?amount=%s", c.URIScheme, address, amount.String())
}
