package ledger

import (
	"errors"

	"github.com/slipbook/slipbook/internal/platform/db"
	"github.com/slipbook/slipbook/internal/shared"
)

func retryConflict(err error) error {
	if errors.Is(err, db.ErrRetriesExhausted) {
		return &shared.ConflictError{Code: shared.ConflictRetryAllocation, Key: "ledger", Err: err}
	}
	return err
}
