// Package ops exposes operator endpoints over the engine: reconciliation,
// sequence inspection and correction, proforma conversion and balances.
package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/platform/httpx"
	"github.com/slipbook/slipbook/internal/proforma"
	"github.com/slipbook/slipbook/internal/sequence"
	"github.com/slipbook/slipbook/internal/shared"
)

// Handler serves the ops routes.
type Handler struct {
	invoices  *invoice.Service
	proformas *proforma.Service
	logger    *slog.Logger
}

// NewHandler constructs the ops handler.
func NewHandler(invoices *invoice.Service, proformas *proforma.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{invoices: invoices, proformas: proformas, logger: logger}
}

// MountRoutes attaches ops routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/reconcile", h.reconcile)
	r.Get("/sequences", h.listSequences)
	r.Get("/sequences/next", h.peekSequence)
	r.Post("/sequences/correct", h.correctSequence)
	r.Get("/proformas/{id}", h.proformaState)
	r.Post("/proformas/{id}/convert", h.convertProforma)
	r.Get("/balances/payable", h.payable)
	r.Get("/balances/receivable", h.receivable)
	r.Get("/balances/{account}", h.balance)
}

// Finding is the wire form of a consistency finding.
type Finding struct {
	Kind           shared.ConsistencyKind `json:"kind"`
	ProformaID     int64                  `json:"proforma_id,omitempty"`
	SalesInvoiceID int64                  `json:"sales_invoice_id,omitempty"`
	Detail         string                 `json:"detail"`
}

// Report groups the findings of one reconciliation run.
type Report struct {
	Proformas []Finding `json:"proformas"`
	Totals    []Finding `json:"totals"`
}

// Clean reports whether the run found nothing.
func (r Report) Clean() bool {
	return len(r.Proformas) == 0 && len(r.Totals) == 0
}

func findings(in []*shared.ConsistencyError) []Finding {
	out := make([]Finding, 0, len(in))
	for _, f := range in {
		out = append(out, Finding{Kind: f.Kind, ProformaID: f.ProformaID, SalesInvoiceID: f.SalesInvoiceID, Detail: f.Detail})
	}
	return out
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pf, err := h.proformas.Reconcile(ctx)
	if err != nil {
		h.fail(w, "reconcile proformas", err)
		return
	}
	drift, err := h.invoices.VerifyAll(ctx, invoice.ListFilter{})
	if err != nil {
		h.fail(w, "verify totals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, Report{Proformas: findings(pf), Totals: findings(drift)})
}

type counterView struct {
	Kind      string    `json:"kind"`
	Prefix    string    `json:"prefix"`
	NextValue int64     `json:"next_value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *Handler) listSequences(w http.ResponseWriter, r *http.Request) {
	counters, err := h.invoices.Sequences().Counters(r.Context())
	if err != nil {
		h.fail(w, "list sequences", err)
		return
	}
	out := make([]counterView, 0, len(counters))
	for _, c := range counters {
		out = append(out, counterView{Kind: c.Key.Kind, Prefix: c.Key.Prefix, NextValue: c.NextValue, UpdatedAt: c.UpdatedAt})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) peekSequence(w http.ResponseWriter, r *http.Request) {
	kind := invoice.DocumentKind(r.URL.Query().Get("kind"))
	number, err := h.invoices.PeekNumber(r.Context(), kind, r.URL.Query().Get("prefix"))
	if err != nil {
		h.fail(w, "peek sequence", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"prefix": number.Prefix, "next_value": number.Sequence, "number": number.String()})
}

type correctRequest struct {
	Kind   string `json:"kind"`
	Prefix string `json:"prefix"`
	Next   int64  `json:"next"`
	Reason string `json:"reason"`
}

func (h *Handler) correctSequence(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	key := sequence.Key{Kind: req.Kind, Prefix: req.Prefix}
	prev, err := h.invoices.Sequences().Correct(r.Context(), key, req.Next, req.Reason)
	if err != nil {
		h.fail(w, "correct sequence", err)
		return
	}
	h.logger.Warn("sequence corrected over http",
		slog.String("key", key.String()), slog.Int64("previous", prev), slog.Int64("next", req.Next))
	httpx.JSON(w, http.StatusOK, map[string]int64{"previous": prev, "next_value": req.Next})
}

func (h *Handler) proformaState(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	state, err := h.proformas.State(r.Context(), id)
	if err != nil {
		h.fail(w, "proforma state", err)
		return
	}
	body := map[string]any{"proforma_id": id, "state": state}
	if state == proforma.StateConverted {
		if rec, err := h.proformas.Record(r.Context(), id); err == nil {
			body["sales_invoice_id"] = rec.SalesInvoiceID
			body["validated_at"] = rec.ValidatedAt
		}
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) convertProforma(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var in proforma.ConvertInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
	}
	res, err := h.proformas.Convert(r.Context(), id, in)
	if err != nil {
		h.fail(w, "convert proforma", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	account, ok := h.pathID(w, r, "account")
	if !ok {
		return
	}
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	bal, err := h.invoices.Ledger().Balance(r.Context(), account, asOf)
	if err != nil {
		h.fail(w, "balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balance": bal, "label": ledger.Label(bal), "position": bal.Position()})
}

func (h *Handler) payable(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.invoices.Ledger().Payable)
}

func (h *Handler) receivable(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, h.invoices.Ledger().Receivable)
}

func (h *Handler) view(w http.ResponseWriter, r *http.Request, load func(context.Context, time.Time) ([]ledger.Balance, error)) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	balances, err := load(r.Context(), asOf)
	if err != nil {
		h.fail(w, "balance view", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": balances, "summary": ledger.Summarise(balances)})
}

func (h *Handler) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Now().UTC(), true
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("as_of", "must be YYYY-MM-DD"))
		return time.Time{}, false
	}
	return t, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var verr *shared.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, shared.ErrNotFound):
	default:
		h.logger.Warn("ops request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
