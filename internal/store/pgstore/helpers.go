package pgstore

import (
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// sqlxIn expands a `?`-placeholder IN clause and rebinds it to Postgres's
// $N style, the same sqlx.In + Rebind combination the teacher's repository
// layer uses for batched lookups.
func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	q, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(sqlx.DOLLAR, q), expanded, nil
}

// pqInt64Array wraps an int64 slice for use as a Postgres array parameter
// (e.g. `tag_id = ANY($1)`).
func pqInt64Array(ids []int64) interface{} {
	return pq.Array(ids)
}
