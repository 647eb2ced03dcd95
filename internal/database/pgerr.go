package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes this package cares about.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateSerializationFail   = "40001"
)

// IsUniqueViolation reports whether err is a unique-constraint
// violation (e.g. a duplicate api_keys.key_hash or a second
// PBI_VERIFIED receipt racing the partial unique index on
// pbi_receipts.challenge_id).
func IsUniqueViolation(err error) bool {
	return pgErrCode(err) == sqlStateUniqueViolation
}

// IsForeignKeyViolation reports whether err violates a foreign key,
// e.g. a webhook delivery referencing a deleted endpoint.
func IsForeignKeyViolation(err error) bool {
	return pgErrCode(err) == sqlStateForeignKeyViolation
}

// IsSerializationFailure reports a transaction that must be retried.
func IsSerializationFailure(err error) bool {
	return pgErrCode(err) == sqlStateSerializationFail
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
