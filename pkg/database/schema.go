package database

import (
	"github.com/jackc/pgx/v5"
)

// VisitsSchema returns the statements that create a visits table and its
// bucket_date index. Timestamps are TEXT so rows written by older clients
// with odd formats still load.
func VisitsSchema(table string) []string {
	ident := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{"idx_" + table + "_bucket_date"}.Sanitize()

	return []string{
		`CREATE TABLE IF NOT EXISTS ` + ident + ` (
			dedup_key TEXT PRIMARY KEY,
			client_address TEXT NOT NULL,
			bucket_date TEXT NOT NULL,
			arrival_timestamp TEXT,
			created_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + ident + `(bucket_date)`,
	}
}

// DropVisitsSchema returns the statement that removes a visits table
func DropVisitsSchema(table string) string {
	return `DROP TABLE IF EXISTS ` + pgx.Identifier{table}.Sanitize() + ` CASCADE`
}
