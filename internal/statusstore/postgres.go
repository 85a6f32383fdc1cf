package statusstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Enabled reports whether a database backend is configured at all.
func (c DatabaseConfig) Enabled() bool { return c.Host != "" }

// OpenDatabase opens the connection pool used by the postgres status store.
func OpenDatabase(config DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		config.Host,
		config.Port,
		config.Database,
		config.User,
		config.Password,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("[DB] connected to PostgreSQL database: %s", config.Database)
	return db, nil
}

// PostgresStore persists status records in a payment_status table so several
// gateway instances can share one store. Schema is managed by migrations:
//
//	CREATE TABLE payment_status (
//	    key        TEXT PRIMARY KEY,
//	    status     JSONB NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	DB  *sql.DB
	TTL time.Duration
}

func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{DB: db, TTL: ttl}
}

func (s *PostgresStore) Get(ctx context.Context, paymentID string) (PaymentStatus, error) {
	if s.DB == nil {
		return PaymentStatus{}, fmt.Errorf("database not initialized")
	}
	var raw []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT status FROM payment_status WHERE key = $1 AND expires_at > CURRENT_TIMESTAMP`,
		KeyPrefix+paymentID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return PaymentStatus{}, ErrNotFound
	}
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("query payment status: %w", err)
	}
	var status PaymentStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return PaymentStatus{}, fmt.Errorf("decode payment status: %w", err)
	}
	return status, nil
}

func (s *PostgresStore) Put(ctx context.Context, paymentID string, status PaymentStatus) error {
	if s.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode payment status: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
        INSERT INTO payment_status (key, status, expires_at)
        VALUES ($1, $2, CURRENT_TIMESTAMP + $3 * INTERVAL '1 second')
        ON CONFLICT (key) DO NOTHING
    `, KeyPrefix+paymentID, raw, int64(s.TTL.Seconds()))
	if err != nil {
		return fmt.Errorf("insert payment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert payment status: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyWritten
	}
	return nil
}

// PurgeExpired deletes records past their retention window. Callers run it on
// a timer; reads already ignore expired rows.
func (s *PostgresStore) PurgeExpired(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM payment_status WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("purge payment status: %w", err)
	}
	return nil
}
