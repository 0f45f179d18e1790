package database

import (
	"net/http"

	"github.com/lib/pq"

	"github.com/tabular/tabular-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with a meaningful
// message. Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Unique constraint violation (23505)
	case "23505":
		return errors.New("CONFLICT", "a record with these values already exists", http.StatusConflict)

	// Foreign key violation (23503)
	case "23503":
		return errors.New("BAD_REQUEST", "referenced record does not exist", http.StatusBadRequest)

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.New("BAD_REQUEST", col+" must not be empty", http.StatusBadRequest)

	// Check constraint violation (23514)
	case "23514":
		return errors.New("BAD_REQUEST", "data validation failed: "+pqErr.Constraint, http.StatusBadRequest)

	// Undefined table (42P01)
	case "42P01":
		return errors.TableNotFound()

	default:
		return nil
	}
}
