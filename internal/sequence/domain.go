// Package sequence issues unique, monotonic document numbers per (kind, prefix).
package sequence

import (
	"strings"
	"time"
)

// Key identifies one numbering namespace.
type Key struct {
	Kind   string `json:"kind" yaml:"kind"`
	Prefix string `json:"prefix" yaml:"prefix"`
}

func (k Key) String() string {
	return k.Kind + "/" + strings.TrimSpace(k.Prefix)
}

// Counter is the persisted next value of a namespace.
type Counter struct {
	Key       Key
	NextValue int64
	UpdatedAt time.Time
}

// Retirement records a number that was issued and will never be reused.
type Retirement struct {
	Key       Key
	Value     int64
	Reason    string
	RetiredAt time.Time
}
