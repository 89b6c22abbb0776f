// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/slipbook/slipbook/internal/shared"
)

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		verr *shared.ValidationError
		cerr *shared.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusBadRequest, ValidationProblem{
			ProblemDetail: ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: err.Error()},
			Fields:        verr.Fields,
		})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &cerr):
		if cerr.Retryable() {
			w.Header().Set("Retry-After", "1")
		}
		JSON(w, http.StatusConflict, ProblemDetail{
			Type:   "conflict/" + string(cerr.Code),
			Title:  "Conflict",
			Status: http.StatusConflict,
			Detail: err.Error(),
		})
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrConsistency):
		Problem(w, http.StatusUnprocessableEntity, "Consistency Violation", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
