package ledger_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/money"
	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/shared"
	"github.com/slipbook/slipbook/internal/testing/memstore"
)

var today = time.Date(2024, 4, 10, 15, 30, 0, 0, time.UTC)

func newAggregator(store *memstore.Store, opts ...ledger.Option) *ledger.Aggregator {
	opts = append([]ledger.Option{
		ledger.WithNow(func() time.Time { return today }),
		ledger.WithRetryPolicy(db.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
	}, opts...)
	return ledger.NewAggregator(store.Ledger(), nil, opts...)
}

func post(t *testing.T, agg *ledger.Aggregator, e ledger.Entry) ledger.Posting {
	t.Helper()
	var posting ledger.Posting
	err := agg.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		p, err := agg.PostIn(ctx, tx, e)
		posting = p
		return err
	})
	require.NoError(t, err)
	return posting
}

func TestBalanceOpeningMinusCreditIsPayable(t *testing.T) {
	store := memstore.New()
	party := store.AddParty("Sharma Traders", money.MustParse("1000"))
	agg := newAggregator(store)

	post(t, agg, ledger.Entry{
		AccountRef: party, Date: today, Amount: money.MustParse("1500"),
		Direction: ledger.Credit, SourceKind: ledger.SourcePurchaseInvoice, SourceRef: 1,
	})

	bal, err := agg.Balance(context.Background(), party, time.Time{})
	require.NoError(t, err)
	require.True(t, bal.Closing.Equal(money.MustParse("-500")), bal.Closing.String())
	require.Equal(t, ledger.Payable, bal.Position())
	require.Equal(t, "500.00 Cr", ledger.Label(bal))

	payable, err := agg.Payable(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, payable, 1)
	require.Equal(t, party, payable[0].AccountRef)

	receivable, err := agg.Receivable(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Empty(t, receivable)
}

func TestNetOutstandingIsSignedClosing(t *testing.T) {
	store := memstore.New()
	party := store.AddParty("Kaveri Stores", money.MustParse("200"))
	agg := newAggregator(store)

	post(t, agg, ledger.Entry{
		AccountRef: party, Date: today, Amount: money.MustParse("50.25"),
		Direction: ledger.Debit, SourceKind: ledger.SourceSalesInvoice, SourceRef: 7,
	})

	net, err := agg.NetOutstanding(context.Background(), party, time.Time{})
	require.NoError(t, err)
	require.True(t, net.Equal(money.MustParse("250.25")), net.String())

	_, err = agg.NetOutstanding(context.Background(), 9999, time.Time{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBalanceAsOfIgnoresLaterEntries(t *testing.T) {
	store := memstore.New()
	party := store.AddParty("Gupta & Sons", decimal.Zero)
	agg := newAggregator(store)

	post(t, agg, ledger.Entry{AccountRef: party, Date: today.AddDate(0, 0, -5), Amount: money.MustParse("200"),
		Direction: ledger.Debit, SourceKind: ledger.SourceSalesInvoice})
	post(t, agg, ledger.Entry{AccountRef: party, Date: today, Amount: money.MustParse("300"),
		Direction: ledger.Debit, SourceKind: ledger.SourceSalesInvoice})

	past, err := agg.Balance(context.Background(), party, today.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.True(t, past.Closing.Equal(money.MustParse("200")))

	now, err := agg.Balance(context.Background(), party, today)
	require.NoError(t, err)
	require.True(t, now.Closing.Equal(money.MustParse("500")))
	require.Equal(t, "500.00 Dr", ledger.Label(now))
}

func TestBalanceUnknownAccount(t *testing.T) {
	agg := newAggregator(memstore.New())
	_, err := agg.Balance(context.Background(), 99, today)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = agg.Balance(context.Background(), 0, today)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestViewsPartitionBySign(t *testing.T) {
	store := memstore.New()
	agg := newAggregator(store)
	rng := rand.New(rand.NewSource(7))

	var ids []int64
	for i := 0; i < 20; i++ {
		opening := decimal.NewFromInt(int64(rng.Intn(2001) - 1000))
		ids = append(ids, store.AddParty("party", opening))
	}
	for i := 0; i < 100; i++ {
		dir := ledger.Debit
		if rng.Intn(2) == 0 {
			dir = ledger.Credit
		}
		post(t, agg, ledger.Entry{
			AccountRef: ids[rng.Intn(len(ids))],
			Date:       today.AddDate(0, 0, -rng.Intn(30)),
			Amount:     decimal.NewFromInt(int64(rng.Intn(100000))).Shift(-2),
			Direction:  dir,
			SourceKind: ledger.SourceQuickEntry,
		})
	}

	all, err := agg.Balances(context.Background(), today)
	require.NoError(t, err)
	payable := ledger.PayableView(all)
	receivable := ledger.ReceivableView(all)

	net := decimal.Zero
	for _, b := range all {
		net = net.Add(b.Closing)
		single, err := agg.Balance(context.Background(), b.AccountRef, today)
		require.NoError(t, err)
		require.True(t, single.Closing.Equal(b.Closing), "account %d", b.AccountRef)
	}
	for _, b := range payable {
		require.True(t, b.Closing.IsNegative())
	}
	for _, b := range receivable {
		require.True(t, b.Closing.IsPositive())
	}
	summary := ledger.Summarise(all)
	require.True(t, summary.Net.Equal(net), "net %s != %s", summary.Net, net)
}

func TestQuickEntryReportsBalancesAroundPosting(t *testing.T) {
	store := memstore.New()
	party := store.AddParty("Verma Agencies", money.MustParse("2500"))
	agg := newAggregator(store)

	posting, err := agg.PostQuickEntry(context.Background(), ledger.QuickEntryInput{
		Type:       ledger.SlipBook,
		Book:       "HDFC Current",
		AccountRef: party,
		Date:       today,
		Amount:     money.MustParse("1000.005"),
		VoucherNo:  "R-17",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.Credit, posting.Entry.Direction)
	require.True(t, posting.LastBalance.Equal(money.MustParse("2500")))
	require.True(t, posting.CurrentAmt.Equal(money.MustParse("1000.01")))
	require.True(t, posting.NetBalance.Equal(money.MustParse("1499.99")))

	entries, err := agg.ListQuickEntries(context.Background(), ledger.EntryFilter{Book: "HDFC Current"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "R-17", entries[0].VoucherNo)
}

func TestQuickEntryValidation(t *testing.T) {
	store := memstore.New()
	party := store.AddParty("Verma Agencies", decimal.Zero)
	agg := newAggregator(store)

	_, err := agg.PostQuickEntry(context.Background(), ledger.QuickEntryInput{
		Type:       "barter",
		AccountRef: party,
		Date:       today,
		Amount:     decimal.Zero,
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.GreaterOrEqual(t, len(verr.Fields), 3)
	require.Empty(t, store.Entries())
}

func TestStatementRunningBalance(t *testing.T) {
	store := memstore.New()
	party := store.AddParty("Kapoor Textiles", money.MustParse("100"))
	agg := newAggregator(store)

	post(t, agg, ledger.Entry{AccountRef: party, Date: today.AddDate(0, 0, -10), Amount: money.MustParse("50"),
		Direction: ledger.Debit, SourceKind: ledger.SourceSalesInvoice})
	post(t, agg, ledger.Entry{AccountRef: party, Date: today.AddDate(0, 0, -2), Amount: money.MustParse("400"),
		Direction: ledger.Debit, SourceKind: ledger.SourceSalesInvoice})
	post(t, agg, ledger.Entry{AccountRef: party, Date: today, Amount: money.MustParse("120"),
		Direction: ledger.Credit, SourceKind: ledger.SourceQuickEntry})

	st, err := agg.Statement(context.Background(), party, today.AddDate(0, 0, -3), today)
	require.NoError(t, err)
	require.True(t, st.Opening.Equal(money.MustParse("150")))
	require.Len(t, st.Lines, 2)
	require.True(t, st.Lines[0].Running.Equal(money.MustParse("550")))
	require.True(t, st.Lines[1].Running.Equal(money.MustParse("430")))
	require.True(t, st.Closing.Equal(money.MustParse("430")))

	_, err = agg.Statement(context.Background(), party, today, today.AddDate(0, 0, -1))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostInRejectsInvalidEntry(t *testing.T) {
	store := memstore.New()
	party := store.AddParty("Kapoor Textiles", decimal.Zero)
	agg := newAggregator(store)

	err := agg.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := agg.PostIn(ctx, tx, ledger.Entry{AccountRef: party, Amount: money.MustParse("-1"),
			Direction: ledger.Debit, SourceKind: ledger.SourceQuickEntry})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, store.Entries())
}

func TestCachedBalanceInvalidatedByPosting(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	party := store.AddParty("Mehta Stores", money.MustParse("10"))
	agg := newAggregator(store, ledger.WithCache(ledger.NewBalanceCache(client, time.Minute)))

	first, err := agg.Balance(context.Background(), party, today)
	require.NoError(t, err)
	require.True(t, first.Closing.Equal(money.MustParse("10")))
	require.NotEmpty(t, mr.Keys())

	post(t, agg, ledger.Entry{AccountRef: party, Date: today, Amount: money.MustParse("5"),
		Direction: ledger.Debit, SourceKind: ledger.SourceSalesInvoice})

	version, err := client.Get(context.Background(), shared.BalanceVersionKey()).Int64()
	require.NoError(t, err)
	require.Equal(t, int64(2), version)

	second, err := agg.Balance(context.Background(), party, today)
	require.NoError(t, err)
	require.True(t, second.Closing.Equal(money.MustParse("15")), second.Closing.String())
}

func TestFailedBumpBypassesCacheUntilRecovered(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	party := store.AddParty("Mehta Stores", money.MustParse("10"))
	agg := newAggregator(store, ledger.WithCache(ledger.NewBalanceCache(client, time.Minute)))

	first, err := agg.Balance(context.Background(), party, today)
	require.NoError(t, err)
	require.True(t, first.Closing.Equal(money.MustParse("10")))

	mr.SetError("LOADING redis is loading the dataset in memory")
	post(t, agg, ledger.Entry{AccountRef: party, Date: today, Amount: money.MustParse("5"),
		Direction: ledger.Debit, SourceKind: ledger.SourceSalesInvoice})

	during, err := agg.Balance(context.Background(), party, today)
	require.NoError(t, err)
	require.True(t, during.Closing.Equal(money.MustParse("15")), during.Closing.String())

	mr.SetError("")
	after, err := agg.Balance(context.Background(), party, today)
	require.NoError(t, err)
	require.True(t, after.Closing.Equal(money.MustParse("15")), after.Closing.String())

	version, err := client.Get(context.Background(), shared.BalanceVersionKey()).Int64()
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
}

func TestCacheUnavailableFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	party := store.AddParty("Mehta Stores", money.MustParse("10"))
	agg := newAggregator(store, ledger.WithCache(ledger.NewBalanceCache(client, time.Minute)))

	mr.Close()
	bal, err := agg.Balance(context.Background(), party, today)
	require.NoError(t, err)
	require.True(t, bal.Closing.Equal(money.MustParse("10")))
}
