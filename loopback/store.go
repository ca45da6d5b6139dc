package loopback

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/dbbridge/driver"
)

type sessionRow struct {
	ID           string             `db:"id"`
	DatabaseName string             `db:"database_name"`
	SessionType  driver.SessionType `db:"session_type"`
	CreatedAt    time.Time          `db:"created_at"`
	LastPulse    time.Time          `db:"last_pulse"`
}

type transactionRow struct {
	ID        string                 `db:"id"`
	SessionID string                 `db:"session_id"`
	TxType    driver.TransactionType `db:"tx_type"`
	Writes    int                    `db:"writes"`
	CreatedAt time.Time              `db:"created_at"`
}

// DBInit creates the server tables.
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS databases (
		name TEXT PRIMARY KEY,
		commits INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		database_name TEXT NOT NULL,
		session_type INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		last_pulse TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tx_type INTEGER NOT NULL,
		writes INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_database_name ON sessions(database_name);
	CREATE INDEX IF NOT EXISTS idx_transactions_session_id ON transactions(session_id);
	`)
	return err
}

func dbDatabaseExists(db *sqlx.DB, name string) (bool, error) {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM databases WHERE name = $1", name); err != nil {
		return false, err
	}
	return count > 0, nil
}

func dbCreateDatabase(db *sqlx.DB, name string) error {
	_, err := db.Exec("INSERT INTO databases (name) VALUES ($1)", name)
	return err
}

// dbDeleteDatabase drops the database along with its sessions and their
// transactions.
func dbDeleteDatabase(db *sqlx.DB, name string) (bool, error) {
	tx, err := db.Beginx()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM databases WHERE name = $1", name)
	if err != nil {
		return false, err
	}
	_, err = tx.Exec(`DELETE FROM transactions WHERE session_id IN
		(SELECT id FROM sessions WHERE database_name = $1)`, name)
	if err != nil {
		return false, err
	}
	if _, err = tx.Exec("DELETE FROM sessions WHERE database_name = $1", name); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	deleted, err := result.RowsAffected()
	return deleted > 0, err
}

func dbCommitCount(db *sqlx.DB, name string) (int, error) {
	var commits int
	err := db.Get(&commits, "SELECT commits FROM databases WHERE name = $1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", driver.ErrDatabaseNotFound, name)
	}
	return commits, err
}

func dbCreateSession(db *sqlx.DB, s *sessionRow) error {
	_, err := db.NamedExec(`
		INSERT INTO sessions (id, database_name, session_type, created_at, last_pulse)
		VALUES (:id, :database_name, :session_type, :created_at, :last_pulse)`, s)
	return err
}

func dbGetSession(db *sqlx.DB, id string) (*sessionRow, error) {
	var s sessionRow
	err := db.Get(&s, "SELECT * FROM sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driver.ErrSessionInvalidated
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func dbTouchSession(db *sqlx.DB, id string, now time.Time) error {
	_, err := db.Exec("UPDATE sessions SET last_pulse = $1 WHERE id = $2", now, id)
	return err
}

func dbDeleteSession(db *sqlx.DB, id string) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM transactions WHERE session_id = $1", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE id = $1", id); err != nil {
		return err
	}
	return tx.Commit()
}

// dbDeleteIdleSessions drops sessions that have not pulsed since before
// cutoff.
func dbDeleteIdleSessions(db *sqlx.DB, cutoff time.Time) (int64, error) {
	tx, err := db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM transactions WHERE session_id IN
		(SELECT id FROM sessions WHERE last_pulse < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	result, err := tx.Exec("DELETE FROM sessions WHERE last_pulse < $1", cutoff)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func dbDropSessions(db *sqlx.DB) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM transactions"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return err
	}
	return tx.Commit()
}

func dbCreateTransaction(db *sqlx.DB, t *transactionRow) error {
	_, err := db.NamedExec(`
		INSERT INTO transactions (id, session_id, tx_type, writes, created_at)
		VALUES (:id, :session_id, :tx_type, :writes, :created_at)`, t)
	return err
}

func dbGetTransaction(db *sqlx.DB, id string) (*transactionRow, error) {
	var t transactionRow
	err := db.Get(&t, "SELECT * FROM transactions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driver.ErrTransactionClosed
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func dbRecordWrite(db *sqlx.DB, id string) error {
	_, err := db.Exec("UPDATE transactions SET writes = writes + 1 WHERE id = $1", id)
	return err
}

func dbResetWrites(db *sqlx.DB, id string) error {
	_, err := db.Exec("UPDATE transactions SET writes = 0 WHERE id = $1", id)
	return err
}

// dbCommitTransaction removes the transaction and counts a commit against its
// database when it wrote anything.
func dbCommitTransaction(db *sqlx.DB, t *transactionRow) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if t.Writes > 0 {
		_, err = tx.Exec(`UPDATE databases SET commits = commits + 1 WHERE name =
			(SELECT database_name FROM sessions WHERE id = $1)`, t.SessionID)
		if err != nil {
			return err
		}
	}
	if _, err := tx.Exec("DELETE FROM transactions WHERE id = $1", t.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func dbDeleteTransaction(db *sqlx.DB, id string) error {
	_, err := db.Exec("DELETE FROM transactions WHERE id = $1", id)
	return err
}
