package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/sequence"
)

func newSequenceCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Inspect and correct document number counters",
	}
	cmd.AddCommand(newSequencePeekCommand(opts))
	cmd.AddCommand(newSequenceListCommand(opts))
	cmd.AddCommand(newSequenceCorrectCommand(opts))
	cmd.AddCommand(newSequenceRetiredCommand(opts))
	return cmd
}

func keyFlags(cmd *cobra.Command, key *sequence.Key) {
	cmd.Flags().StringVar(&key.Kind, "kind", string(invoice.SalesInvoice), "document kind")
	cmd.Flags().StringVar(&key.Prefix, "prefix", "", "number prefix")
}

func newSequencePeekCommand(opts *RootOptions) *cobra.Command {
	var key sequence.Key
	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Show the next number without allocating it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			number, err := rt.Engine.Invoices.PeekNumber(cmd.Context(), invoice.DocumentKind(key.Kind), key.Prefix)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, number, func(w io.Writer) {
				row(w, key.String(), number.String())
			})
		},
	}
	keyFlags(cmd, &key)
	return cmd
}

func newSequenceListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every counter with its next value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			counters, err := rt.Engine.Sequences.Counters(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, counters, func(w io.Writer) {
				row(w, "KIND", "PREFIX", "NEXT")
				for _, c := range counters {
					row(w, c.Key.Kind, c.Key.Prefix, c.NextValue)
				}
			})
		},
	}
}

func newSequenceCorrectCommand(opts *RootOptions) *cobra.Command {
	var (
		key    sequence.Key
		next   int64
		reason string
	)
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Move a counter forward past every issued number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			prev, err := rt.Engine.Sequences.Correct(cmd.Context(), key, next, reason)
			if err != nil {
				return err
			}
			out := map[string]any{"kind": key.Kind, "prefix": key.Prefix, "previous": prev, "next_value": next}
			return emit(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) {
				row(w, key.String(), prev, "->", next)
			})
		},
	}
	keyFlags(cmd, &key)
	cmd.Flags().Int64Var(&next, "next", 0, "new next value")
	cmd.Flags().StringVar(&reason, "reason", "", "why the counter moves")
	_ = cmd.MarkFlagRequired("next")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newSequenceRetiredCommand(opts *RootOptions) *cobra.Command {
	var key sequence.Key
	cmd := &cobra.Command{
		Use:   "retired",
		Short: "List numbers retired from a namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			retired, err := rt.Engine.Sequences.Retirements(cmd.Context(), key)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, retired, func(w io.Writer) {
				row(w, "VALUE", "REASON", "RETIRED")
				for _, r := range retired {
					row(w, r.Value, r.Reason, r.RetiredAt.Format("2006-01-02 15:04"))
				}
			})
		},
	}
	keyFlags(cmd, &key)
	return cmd
}
