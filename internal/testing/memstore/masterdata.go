package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/slipbook/slipbook/internal/masterdata/accounts"
	"github.com/slipbook/slipbook/internal/masterdata/products"
	"github.com/slipbook/slipbook/internal/shared"
)

// Products returns the product catalog.
func (s *Store) Products() products.Repository {
	return productRepo{s}
}

// Accounts returns the account master.
func (s *Store) Accounts() accounts.Repository {
	return accountRepo{s}
}

type productRepo struct{ s *Store }

func (r productRepo) Lookup(_ context.Context, id int64) (products.Product, error) {
	r.s.masterMu.RLock()
	defer r.s.masterMu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return products.Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (r productRepo) List(context.Context) ([]products.Product, error) {
	r.s.masterMu.RLock()
	defer r.s.masterMu.RUnlock()
	out := make([]products.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type accountRepo struct{ s *Store }

func (r accountRepo) Get(_ context.Context, id int64) (accounts.Account, error) {
	r.s.masterMu.RLock()
	defer r.s.masterMu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return accounts.Account{}, fmt.Errorf("account %d: %w", id, shared.ErrNotFound)
	}
	return a, nil
}

func (r accountRepo) List(_ context.Context, kind accounts.Kind) ([]accounts.Account, error) {
	r.s.masterMu.RLock()
	defer r.s.masterMu.RUnlock()
	var out []accounts.Account
	for _, a := range r.s.accounts {
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
