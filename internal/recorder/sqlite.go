package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists the decision history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance (dashboards read while
	// the bot writes).
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			event_type  TEXT,
			side        TEXT,
			account     TEXT,
			entry_price REAL,
			quantity    REAL,
			take_profit REAL,
			stop_loss   REAL,
			status      TEXT,
			order_id    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,

		`CREATE TABLE IF NOT EXISTS rebalances (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			reason       TEXT,
			from_account TEXT,
			to_account   TEXT,
			amount       REAL,
			transfer_id  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rebalances_ts ON rebalances(timestamp)`,

		`CREATE TABLE IF NOT EXISTS skips (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			event_type  TEXT,
			side        TEXT,
			level_price REAL,
			stop_price  REAL,
			detail      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_skips_ts ON skips(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordTrade(evt *TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO trades
		(timestamp, event_type, side, account, entry_price, quantity, take_profit, stop_loss, status, order_id)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.EventType, evt.Side, evt.Account,
		evt.EntryPrice, evt.Quantity, evt.TakeProfit, evt.StopLoss,
		evt.Status, evt.OrderID,
	)
	return err
}

func (r *SQLiteRecorder) RecordRebalance(evt *RebalanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO rebalances
		(timestamp, reason, from_account, to_account, amount, transfer_id)
		VALUES (?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Reason, evt.FromAccount, evt.ToAccount,
		evt.Amount, evt.TransferID,
	)
	return err
}

func (r *SQLiteRecorder) RecordSkip(evt *SkipEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO skips
		(timestamp, event_type, side, level_price, stop_price, detail)
		VALUES (?,?,?,?,?,?)`,
		time.Now().Unix(), evt.EventType, evt.Side,
		evt.LevelPrice, evt.StopPrice, evt.Detail,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
