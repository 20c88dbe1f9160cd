package recorder

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists the audit trail to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	log *slog.Logger
	mu  sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *slog.Logger) (*SQLiteRecorder, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboard reads do not block the write path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quote_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			symbol      TEXT NOT NULL,
			vendor      TEXT NOT NULL,
			price       TEXT,
			volume      INTEGER,
			quote_time  INTEGER,
			failed_over INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quote_ts ON quote_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_quote_symbol ON quote_events(symbol)`,

		`CREATE TABLE IF NOT EXISTS failure_events (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp            INTEGER NOT NULL,
			vendor               TEXT NOT NULL,
			reason               TEXT,
			consecutive_failures INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failure_ts ON failure_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS quality_events (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp          INTEGER NOT NULL,
			symbol             TEXT NOT NULL,
			price_variance_pct TEXT,
			volume_variance    INTEGER,
			timestamp_skew_ms  INTEGER,
			recommended_vendor TEXT,
			issues             TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quality_ts ON quality_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_quality_symbol ON quality_events(symbol)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordQuote(evt *QuoteEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	failedOver := 0
	if evt.FailedOver {
		failedOver = 1
	}
	_, err := r.db.Exec(`INSERT INTO quote_events
		(timestamp, symbol, vendor, price, volume, quote_time, failed_over)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Symbol, evt.Vendor, evt.Price,
		evt.Volume, evt.QuoteTime.Unix(), failedOver,
	)
	return err
}

func (r *SQLiteRecorder) RecordFailure(evt *FailureEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO failure_events
		(timestamp, vendor, reason, consecutive_failures)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), evt.Vendor, evt.Reason, evt.ConsecutiveFailures,
	)
	return err
}

func (r *SQLiteRecorder) RecordQuality(evt *QualityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO quality_events
		(timestamp, symbol, price_variance_pct, volume_variance, timestamp_skew_ms, recommended_vendor, issues)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Symbol, evt.PriceVariancePct,
		evt.VolumeVariance, evt.TimestampSkew.Milliseconds(),
		evt.RecommendedVendor, strings.Join(evt.Issues, "; "),
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}
