package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/slipbook/slipbook/internal/sequence"
)

// Sequences returns the counter repository.
func (s *Store) Sequences() sequence.Repository {
	return seqRepo{s}
}

type seqRepo struct{ s *Store }

func (r seqRepo) Peek(_ context.Context, key sequence.Key) (int64, bool, error) {
	var (
		next int64
		ok   bool
	)
	err := r.s.read(func(st *state) error {
		c, found := st.counters[key]
		next, ok = c.NextValue, found
		return nil
	})
	return next, ok, err
}

func (r seqRepo) Counters(context.Context) ([]sequence.Counter, error) {
	var out []sequence.Counter
	err := r.s.read(func(st *state) error {
		for _, c := range st.counters {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Kind != out[j].Key.Kind {
			return out[i].Key.Kind < out[j].Key.Kind
		}
		return out[i].Key.Prefix < out[j].Key.Prefix
	})
	return out, err
}

func (r seqRepo) Retirements(_ context.Context, key sequence.Key) ([]sequence.Retirement, error) {
	var out []sequence.Retirement
	err := r.s.read(func(st *state) error {
		for _, ret := range st.retirements[key] {
			out = append(out, ret)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, err
}

func (r seqRepo) WithTx(ctx context.Context, fn func(context.Context, sequence.TxRepository) error) error {
	return r.s.inTx(ctx, func(st *state) error {
		return fn(ctx, seqTx{st})
	})
}

type seqTx struct{ st *state }

func (t seqTx) Increment(_ context.Context, key sequence.Key, seed int64) (int64, error) {
	c, ok := t.st.counters[key]
	if !ok {
		c = sequence.Counter{Key: key, NextValue: seed}
	}
	value := c.NextValue
	c.NextValue++
	c.UpdatedAt = time.Now()
	t.st.counters[key] = c
	return value, nil
}

func (t seqTx) SetNext(_ context.Context, key sequence.Key, next int64) (int64, error) {
	prev := t.st.counters[key].NextValue
	t.st.counters[key] = sequence.Counter{Key: key, NextValue: next, UpdatedAt: time.Now()}
	return prev, nil
}

func (t seqTx) Retire(_ context.Context, r sequence.Retirement) error {
	byValue, ok := t.st.retirements[r.Key]
	if !ok {
		byValue = map[int64]sequence.Retirement{}
		t.st.retirements[r.Key] = byValue
	}
	if _, exists := byValue[r.Value]; !exists {
		byValue[r.Value] = r
	}
	return nil
}

func (t seqTx) HighWater(_ context.Context, key sequence.Key) (int64, error) {
	var high int64
	for _, doc := range t.st.docs {
		if string(doc.Kind) == key.Kind && doc.Number.Prefix == key.Prefix && doc.Number.Sequence > high {
			high = doc.Number.Sequence
		}
	}
	for v := range t.st.retirements[key] {
		if v > high {
			high = v
		}
	}
	return high, nil
}
