package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/proforma"
	"github.com/slipbook/slipbook/internal/shared"
)

func newProformaCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proforma",
		Short: "Convert and reconcile proforma invoices",
	}
	cmd.AddCommand(newProformaConvertCommand(opts))
	cmd.AddCommand(newProformaStatusCommand(opts))
	cmd.AddCommand(newProformaReconcileCommand(opts))
	return cmd
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

func parseDate(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, shared.NewValidationError(flag, "must be YYYY-MM-DD")
	}
	return t, nil
}

func newProformaConvertCommand(opts *RootOptions) *cobra.Command {
	var (
		in   proforma.ConvertInput
		date string
	)
	cmd := &cobra.Command{
		Use:   "convert <proforma-id>",
		Short: "Create the sales invoice for a draft proforma",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if in.BillDate, err = parseDate("date", date); err != nil {
				return err
			}
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.Engine.Proformas.Convert(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) {
				row(w, "proforma", id)
				row(w, "sales invoice", res.Sales.Number.String(), res.Sales.ID)
				row(w, "total", formatAmount(res.Sales.Total))
				row(w, "net balance", formatAmount(res.Posting.NetBalance))
			})
		},
	}
	cmd.Flags().StringVar(&in.Prefix, "prefix", "", "sales invoice number prefix")
	cmd.Flags().StringVar(&date, "date", "", "bill date (YYYY-MM-DD, defaults to today)")
	cmd.Flags().StringVar(&in.PartyGSTIN, "gstin", "", "party GSTIN override")
	cmd.Flags().StringVar(&in.ValidatedBy, "by", "", "operator recorded on the validation")
	return cmd
}

func newProformaStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <proforma-id>",
		Short: "Show whether a proforma is draft, converting or converted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			state, err := rt.Engine.Proformas.State(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := map[string]any{"proforma_id": id, "state": state}
			var rec *proforma.ValidationRecord
			if state == proforma.StateConverted {
				if rec, err = rt.Engine.Proformas.Record(cmd.Context(), id); err != nil {
					return err
				}
				out["sales_invoice_id"] = rec.SalesInvoiceID
			}
			return emit(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) {
				row(w, id, state)
				if rec != nil {
					row(w, "sales invoice", rec.SalesInvoiceID, rec.ValidatedAt.Format(time.DateOnly))
				}
			})
		},
	}
}

func newProformaReconcileCommand(opts *RootOptions) *cobra.Command {
	var withTotals bool
	cmd := &cobra.Command{
		Use:   "reconcile [proforma-id]",
		Short: "Report validation records and sales invoices that disagree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			var findings []*shared.ConsistencyError
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				findings, err = rt.Engine.Proformas.CheckProforma(cmd.Context(), id)
				if err != nil {
					return err
				}
			} else {
				findings, err = rt.Engine.Proformas.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
			}
			if withTotals {
				drift, err := rt.Engine.Invoices.VerifyAll(cmd.Context(), invoice.ListFilter{})
				if err != nil {
					return err
				}
				findings = append(findings, drift...)
			}
			if err := emit(cmd.OutOrStdout(), opts.Format, findings, func(w io.Writer) {
				if len(findings) == 0 {
					row(w, "no findings")
					return
				}
				row(w, "KIND", "PROFORMA", "SALES INVOICE", "DETAIL")
				for _, f := range findings {
					row(w, f.Kind, f.ProformaID, f.SalesInvoiceID, f.Detail)
				}
			}); err != nil {
				return err
			}
			if len(findings) > 0 {
				return fmt.Errorf("%d consistency finding(s)", len(findings))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withTotals, "totals", false, "also recompute stored invoice totals")
	return cmd
}
