package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertUsdCents(t *testing.T) {
	t.Run("29.99 USD at 60000 USD per BTC", func(t *testing.T) {
		amount, err := ConvertUsdCents(2999, 6_000_000, 8)
		require.NoError(t, err)
		assert.Equal(t, "0.00049983", amount.String())
	})

	t.Run("truncates rather than rounds up", func(t *testing.T) {
		// 1.00 USD at 3.00 USD per coin = 0.333... truncated
		amount, err := ConvertUsdCents(100, 300, 6)
		require.NoError(t, err)
		assert.Equal(t, "0.333333", amount.String())
	})

	t.Run("rejects non-positive rate", func(t *testing.T) {
		_, err := ConvertUsdCents(2999, 0, 8)
		assert.Error(t, err)
		_, err = ConvertUsdCents(2999, -1, 8)
		assert.Error(t, err)
	})
}

func TestPaymentURIFor(t *testing.T) {
	btc := CryptoCurrency{Code: "BTC", URIScheme: "bitcoin", Decimals: 8}
	amount := decimal.RequireFromString("0.00049983")
	uri := btc.PaymentURIFor("bc1qexampleaddress", amount)
	assert.Equal(t, "bitcoin:bc1qexampleaddress?amount=0.00049983", uri)
}
