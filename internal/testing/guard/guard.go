// Package guard marks the process as running tests and keeps integration
// tests away from databases that are not meant for them.
package guard

import (
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
)

// DSNEnv names the variable integration tests read their Postgres DSN from.
const DSNEnv = "SLIPBOOK_TEST_PG_DSN"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SLIPBOOK_TEST_MODE") == "" {
			_ = os.Setenv("SLIPBOOK_TEST_MODE", "1")
		}
	})
}

// PostgresDSN returns the integration database DSN. The test is skipped when
// none is configured and fails when the database name does not contain "test".
func PostgresDSN(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}
	if !IsTestDSN(dsn) {
		t.Fatalf("%s must point at a database whose name contains \"test\"", DSNEnv)
	}
	return dsn
}

// IsTestDSN reports whether dsn names a test database. Both URL and
// keyword/value forms are accepted.
func IsTestDSN(dsn string) bool {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return false
		}
		return strings.Contains(strings.TrimPrefix(u.Path, "/"), "test")
	}
	for _, field := range strings.Fields(dsn) {
		if name, ok := strings.CutPrefix(field, "dbname="); ok {
			return strings.Contains(name, "test")
		}
	}
	return false
}
