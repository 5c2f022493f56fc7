package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// mapPQError translates driver errors the ledger cares about into domain
// sentinels, leaving everything else untouched.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, domain.ErrAccountExists)
	case pqSerializationFailure, pqDeadlockDetected:
		return fmt.Errorf("%s: %w", pqErr.Message, domain.ErrVersionConflict)
	}
	return err
}
