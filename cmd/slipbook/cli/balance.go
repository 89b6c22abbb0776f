package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/money"
	"github.com/slipbook/slipbook/internal/shared"
)

func newBalanceCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Account balances and the payable and receivable views",
	}
	cmd.AddCommand(newBalanceShowCommand(opts))
	cmd.AddCommand(newBalanceEntryCommand(opts))
	cmd.AddCommand(newBalanceViewCommand(opts, "payable", "Accounts the business owes", (*ledger.Aggregator).Payable))
	cmd.AddCommand(newBalanceViewCommand(opts, "receivable", "Accounts that owe the business", (*ledger.Aggregator).Receivable))
	return cmd
}

func asOfFlag(cmd *cobra.Command, v *string) {
	cmd.Flags().StringVar(v, "as-of", "", "balance date (YYYY-MM-DD, defaults to today)")
}

func resolveAsOf(v string) (time.Time, error) {
	t, err := parseDate("as-of", v)
	if err != nil || !t.IsZero() {
		return t, err
	}
	return time.Now().UTC(), nil
}

func newBalanceShowCommand(opts *RootOptions) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show opening, debits, credits and closing for one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseID(args[0])
			if err != nil {
				return err
			}
			at, err := resolveAsOf(asOf)
			if err != nil {
				return err
			}
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			bal, err := rt.Engine.Ledger.Balance(cmd.Context(), account, at)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, bal, func(w io.Writer) {
				row(w, "opening", formatAmount(bal.Opening))
				row(w, "debits", formatAmount(bal.DebitTotal))
				row(w, "credits", formatAmount(bal.CreditTotal))
				row(w, "closing", ledger.Label(bal))
			})
		},
	}
	asOfFlag(cmd, &asOf)
	return cmd
}

func newBalanceViewCommand(opts *RootOptions, use, short string, load func(*ledger.Aggregator, context.Context, time.Time) ([]ledger.Balance, error)) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := resolveAsOf(asOf)
			if err != nil {
				return err
			}
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			balances, err := load(rt.Engine.Ledger, cmd.Context(), at)
			if err != nil {
				return err
			}
			summary := ledger.Summarise(balances)
			out := map[string]any{"balances": balances, "summary": summary}
			return emit(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) {
				row(w, "ACCOUNT", "NAME", "OUTSTANDING")
				for _, b := range balances {
					row(w, b.AccountRef, b.AccountName, formatAmount(b.Outstanding()))
				}
				if use == "payable" {
					row(w, "", "total", formatAmount(summary.Payable))
				} else {
					row(w, "", "total", formatAmount(summary.Receivable))
				}
			})
		},
	}
	asOfFlag(cmd, &asOf)
	return cmd
}

func newBalanceEntryCommand(opts *RootOptions) *cobra.Command {
	var (
		in     ledger.QuickEntryInput
		entry  string
		amount string
		date   string
	)
	cmd := &cobra.Command{
		Use:   "entry <account-id>",
		Short: "Post a cheque, slip or cash quick entry against an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseID(args[0])
			if err != nil {
				return err
			}
			amt, err := money.Parse(amount)
			if err != nil {
				return shared.NewValidationError("amount", "must be a decimal amount")
			}
			at, err := parseDate("date", date)
			if err != nil {
				return err
			}
			if at.IsZero() {
				at = time.Now().UTC()
			}
			in.Type = ledger.QuickEntryType(entry)
			in.AccountRef = account
			in.Amount = amt
			in.Date = at
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			posting, err := rt.Engine.Ledger.PostQuickEntry(cmd.Context(), in)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, posting, func(w io.Writer) {
				row(w, "entry", posting.Entry.ID)
				row(w, "last balance", formatAmount(posting.LastBalance))
				row(w, "amount", formatAmount(posting.CurrentAmt))
				row(w, "net balance", formatAmount(posting.NetBalance))
			})
		},
	}
	cmd.Flags().StringVar(&entry, "type", "", "cheque_book, slip_book, cash_payment or cash_receipt")
	cmd.Flags().StringVar(&in.Book, "book", "", "cash or bank book the entry is written from")
	cmd.Flags().StringVar(&amount, "amount", "", "entry amount")
	cmd.Flags().StringVar(&date, "date", "", "entry date (YYYY-MM-DD, defaults to today)")
	cmd.Flags().StringVar(&in.VoucherNo, "voucher", "", "voucher number")
	cmd.Flags().StringVar(&in.ChequeNo, "cheque", "", "cheque number")
	cmd.Flags().StringVar(&in.Narration, "narration", "", "free text")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
