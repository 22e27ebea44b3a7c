package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"visitstats/internal/domain"
	"visitstats/pkg/database"
)

const usage = "Usage: go run ./cmd/migrate [up|drop|seed|file <path.sql>]"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	table := os.Getenv("VISITS_TABLE_NAME")
	if table == "" {
		table = os.Getenv("VISITOR_TABLE_NAME")
	}
	if table == "" {
		log.Fatal("VISITS_TABLE_NAME environment variable is not set")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	switch command {
	case "drop":
		if _, err := conn.Exec(ctx, database.DropVisitsSchema(table)); err != nil {
			log.Fatalf("Failed to drop table %s: %v", table, err)
		}
		fmt.Printf("✅ Table %s dropped successfully\n", table)

	case "up":
		if err := createTables(ctx, conn, table); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Printf("✅ Table %s created successfully\n", table)

	case "seed":
		n, err := seedVisits(ctx, conn, table, time.Now())
		if err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
		fmt.Printf("✅ Seeded %d visits\n", n)

	case "file":
		if len(os.Args) < 3 {
			fmt.Println(usage)
			os.Exit(1)
		}
		if err := runSQLFile(ctx, conn, os.Args[2]); err != nil {
			log.Fatalf("Failed to run migration file: %v", err)
		}
		fmt.Printf("✅ Migration %s applied successfully\n", os.Args[2])

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func createTables(ctx context.Context, conn *pgx.Conn, table string) error {
	for _, query := range database.VisitsSchema(table) {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w\nQuery: %s", err, query)
		}
		fmt.Printf("  Created: %s\n", getTableName(query))
	}
	return nil
}

// seedVisits inserts a week of sample visits ending at now. Rows that already
// exist are left alone so seeding twice is harmless.
func seedVisits(ctx context.Context, conn *pgx.Conn, table string, now time.Time) (int64, error) {
	query := `
		INSERT INTO ` + pgx.Identifier{table}.Sanitize() + ` (dedup_key, client_address, bucket_date, arrival_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	batch := &pgx.Batch{}
	for day := 0; day < 7; day++ {
		for i := 0; i <= day%4; i++ {
			at := now.UTC().AddDate(0, 0, -day).Add(-time.Duration(i*37) * time.Minute)
			rec := domain.NewVisitRecord(fmt.Sprintf("192.0.2.%d", 10+i), at)
			batch.Queue(query, rec.DedupKey, rec.ClientAddress, rec.BucketDate, rec.ArrivalTimestamp, rec.CreatedAt)
		}
	}

	results := conn.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to seed visit: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func runSQLFile(ctx context.Context, conn *pgx.Conn, path string) error {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	if _, err := conn.Exec(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("failed to execute %s: %w", path, err)
	}
	return nil
}

func getTableName(query string) string {
	if len(query) > 50 {
		return query[:50] + "..."
	}
	return query
}
