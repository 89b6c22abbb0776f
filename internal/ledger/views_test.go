package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func bal(opening, debits, credits string) Balance {
	return NewBalance(1, time.Time{}, decimal.RequireFromString(opening),
		decimal.RequireFromString(debits), decimal.RequireFromString(credits))
}

func TestPosition(t *testing.T) {
	require.Equal(t, Receivable, bal("0", "10", "0").Position())
	require.Equal(t, Payable, bal("1000", "0", "1500").Position())
	require.Equal(t, Settled, bal("100", "0", "100").Position())
	require.Equal(t, "0.00", Label(bal("100", "0", "100")))
}

func TestSummarise(t *testing.T) {
	s := Summarise([]Balance{bal("0", "300", "0"), bal("0", "0", "120.50"), bal("5", "0", "5")})
	require.True(t, s.Receivable.Equal(decimal.RequireFromString("300")))
	require.True(t, s.Payable.Equal(decimal.RequireFromString("120.50")))
	require.True(t, s.Net.Equal(decimal.RequireFromString("179.50")))
}

func TestDirectionApply(t *testing.T) {
	ten := decimal.NewFromInt(10)
	require.True(t, Debit.Apply(decimal.Zero, ten).Equal(ten))
	require.True(t, Credit.Apply(decimal.Zero, ten).Equal(ten.Neg()))
	require.Equal(t, Credit, Debit.Opposite())
	require.Equal(t, 1, Debit.Sign())
	require.Equal(t, -1, Credit.Sign())

	dir, ok := ChequeBook.Direction()
	require.True(t, ok)
	require.Equal(t, Debit, dir)
	_, ok = QuickEntryType("barter").Direction()
	require.False(t, ok)
}
