package ledger

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// SolanaDecimals is the number of decimals between lamports and SOL.
	SolanaDecimals int32 = 9
	// EtherDecimals is the number of decimals between wei and ether.
	EtherDecimals int32 = 18
)

// FormatAmount renders base units as a decimal string in the ledger's display unit.
func FormatAmount(units uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals).String()
}
