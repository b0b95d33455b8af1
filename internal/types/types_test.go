package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAssetClass(t *testing.T) {
	tests := []struct {
		in   string
		want AssetClass
	}{
		{"Crypto", AssetCrypto},
		{" crypto ", AssetCrypto},
		{"Stock", AssetEquity},
		{"ETF", AssetEquity},
		{"", AssetEquity},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAssetClass(tt.in))
		})
	}
}

func TestParseTransactionType(t *testing.T) {
	assert.Equal(t, TxSell, ParseTransactionType("sell"))
	assert.Equal(t, TxDividend, ParseTransactionType("DIVIDEND"))
	assert.Equal(t, TxWithdrawal, ParseTransactionType(" Withdrawal "))
	assert.Equal(t, TxOther, ParseTransactionType("interest"))
}
