// Package memstore is an in-memory implementation of every engine repository
// for service tests. Transactions are serialized and run against a copy of
// the state that is discarded when the callback fails.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/slipbook/slipbook/internal/invoice"
	"github.com/slipbook/slipbook/internal/ledger"
	"github.com/slipbook/slipbook/internal/masterdata/accounts"
	"github.com/slipbook/slipbook/internal/masterdata/products"
	"github.com/slipbook/slipbook/internal/proforma"
	"github.com/slipbook/slipbook/internal/sequence"
	_ "github.com/slipbook/slipbook/internal/testing/guard"
)

// Store holds engine state and master data.
type Store struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *state

	masterMu sync.RWMutex
	accounts map[int64]accounts.Account
	products map[int64]products.Product
	nextID   int64

	failCommits atomic.Int64
	commits     atomic.Int64
}

type state struct {
	counters     map[sequence.Key]sequence.Counter
	retirements  map[sequence.Key]map[int64]sequence.Retirement
	entries      []ledger.Entry
	docs         map[int64]invoice.Document
	records      map[int64]proforma.ValidationRecord
	nextEntryID  int64
	nextDocID    int64
	nextRecordID int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: &state{
			counters:    map[sequence.Key]sequence.Counter{},
			retirements: map[sequence.Key]map[int64]sequence.Retirement{},
			docs:        map[int64]invoice.Document{},
			records:     map[int64]proforma.ValidationRecord{},
		},
		accounts: map[int64]accounts.Account{},
		products: map[int64]products.Product{},
	}
}

func (s *state) clone() *state {
	out := &state{
		counters:     make(map[sequence.Key]sequence.Counter, len(s.counters)),
		retirements:  make(map[sequence.Key]map[int64]sequence.Retirement, len(s.retirements)),
		entries:      append([]ledger.Entry(nil), s.entries...),
		docs:         make(map[int64]invoice.Document, len(s.docs)),
		records:      make(map[int64]proforma.ValidationRecord, len(s.records)),
		nextEntryID:  s.nextEntryID,
		nextDocID:    s.nextDocID,
		nextRecordID: s.nextRecordID,
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	for k, byValue := range s.retirements {
		cp := make(map[int64]sequence.Retirement, len(byValue))
		for v, r := range byValue {
			cp[v] = r
		}
		out.retirements[k] = cp
	}
	for id, doc := range s.docs {
		out.docs[id] = copyDocument(doc)
	}
	for id, rec := range s.records {
		out.records[id] = rec
	}
	return out
}

func copyDocument(doc invoice.Document) invoice.Document {
	doc.Lines = append(doc.Lines[:0:0], doc.Lines...)
	if doc.SourceProformaID != nil {
		id := *doc.SourceProformaID
		doc.SourceProformaID = &id
	}
	return doc
}

// FailCommits makes the next n transactions fail at commit with a
// serialization failure.
func (s *Store) FailCommits(n int) {
	s.failCommits.Store(int64(n))
}

// Commits returns the number of transactions committed so far.
func (s *Store) Commits() int64 {
	return s.commits.Load()
}

func (s *Store) inTx(ctx context.Context, fn func(*state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}
	if s.failCommits.Load() > 0 && s.failCommits.Add(-1) >= 0 {
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	s.commits.Add(1)
	return nil
}

func (s *Store) read(fn func(*state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// AddAccount stores an account master record and returns its id.
func (s *Store) AddAccount(a accounts.Account) int64 {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	if a.ID == 0 {
		s.nextID++
		a.ID = s.nextID
	}
	if a.Kind == "" {
		a.Kind = accounts.KindParty
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.accounts[a.ID] = a
	return a.ID
}

// AddParty is AddAccount for a party with an opening balance.
func (s *Store) AddParty(name string, opening decimal.Decimal) int64 {
	return s.AddAccount(accounts.Account{Name: name, Kind: accounts.KindParty, OpeningBalance: opening})
}

// AddProduct stores a catalog record and returns its id.
func (s *Store) AddProduct(p products.Product) int64 {
	s.masterMu.Lock()
	defer s.masterMu.Unlock()
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	}
	s.products[p.ID] = p
	return p.ID
}

// Documents returns every stored document ordered by id.
func (s *Store) Documents() []invoice.Document {
	var out []invoice.Document
	_ = s.read(func(st *state) error {
		out = sortedDocs(st, func(invoice.Document) bool { return true })
		return nil
	})
	return out
}

// Entries returns every ledger entry in insertion order.
func (s *Store) Entries() []ledger.Entry {
	var out []ledger.Entry
	_ = s.read(func(st *state) error {
		out = append(out, st.entries...)
		return nil
	})
	return out
}

// Records returns every validation record.
func (s *Store) Records() []proforma.ValidationRecord {
	var out []proforma.ValidationRecord
	_ = s.read(func(st *state) error {
		out = sortedRecords(st)
		return nil
	})
	return out
}

// DeleteRecord removes a validation record, leaving its sales invoice orphaned.
func (s *Store) DeleteRecord(proformaID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.records, proformaID)
}

// DeleteDocument removes a document, leaving any record pointing at it orphaned.
func (s *Store) DeleteDocument(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.docs, id)
}

// SetTotal overwrites the cached total of a document.
func (s *Store) SetTotal(id int64, total decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.state.docs[id]
	doc.Total = total
	s.state.docs[id] = doc
}
