// Package loopback is an in-process database server backed by SQLite. It
// implements driver.Transport, so sessions and transactions can be exercised
// end to end, including server restarts that invalidate every session.
package loopback

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/dbbridge/driver"
)

var (
	ErrDatabaseExists = errors.New("database already exists")
	ErrReadOnly       = errors.New("write in a read transaction")
)

// Config holds the server settings.
type Config struct {
	Logger *slog.Logger // Optional, defaults to slog.Default()
}

// Server is a loopback database server. Session tokens are JWTs signed with a
// secret that lives only as long as the current boot.
type Server struct {
	db     *sqlx.DB
	logger *slog.Logger

	mu     sync.RWMutex
	secret []byte
}

var _ driver.Transport = (*Server)(nil)

// NewServer initializes the server tables in db and boots the server.
func NewServer(db *sqlx.DB, config Config) (*Server, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if err := DBInit(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := &Server{
		db:     db,
		logger: config.Logger.With("component", "LoopbackServer"),
	}
	if err := s.Restart(); err != nil {
		return nil, err
	}
	return s, nil
}

func generateSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random JWT secret key: %w", err)
	}
	return b, nil
}

// Restart simulates a server restart: every session and transaction is
// forgotten and every issued token stops verifying.
func (s *Server) Restart() error {
	secret, err := generateSecret()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := dbDropSessions(s.db); err != nil {
		return fmt.Errorf("failed to drop sessions: %w", err)
	}
	s.secret = secret
	s.logger.Info("Server booted")
	return nil
}

// CreateDatabase creates an empty database.
func (s *Server) CreateDatabase(ctx context.Context, name string) error {
	exists, err := dbDatabaseExists(s.db, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDatabaseExists, name)
	}
	if err := dbCreateDatabase(s.db, name); err != nil {
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	s.logger.Info("Database created", "database", name)
	return nil
}

// DeleteDatabase drops a database. Its sessions are invalidated and cannot
// be reopened.
func (s *Server) DeleteDatabase(ctx context.Context, name string) error {
	deleted, err := dbDeleteDatabase(s.db, name)
	if err != nil {
		return fmt.Errorf("failed to delete database %q: %w", name, err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", driver.ErrDatabaseNotFound, name)
	}
	s.logger.Info("Database deleted", "database", name)
	return nil
}

// CommitCount returns how many writing transactions were committed to the
// database.
func (s *Server) CommitCount(ctx context.Context, name string) (int, error) {
	return dbCommitCount(s.db, name)
}

// ExpireIdleSessions drops sessions that have not pulsed within idle.
func (s *Server) ExpireIdleSessions(ctx context.Context, idle time.Duration) (int64, error) {
	return dbDeleteIdleSessions(s.db, time.Now().UTC().Add(-idle))
}

func (s *Server) DatabaseExists(ctx context.Context, name string) (bool, error) {
	return dbDatabaseExists(s.db, name)
}

func (s *Server) OpenSession(ctx context.Context, database string, sessionType driver.SessionType, opts driver.Options) (string, error) {
	exists, err := dbDatabaseExists(s.db, database)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", driver.ErrDatabaseNotFound, database)
	}

	now := time.Now().UTC()
	row := &sessionRow{
		ID:           uuid.NewString(),
		DatabaseName: database,
		SessionType:  sessionType,
		CreatedAt:    now,
		LastPulse:    now,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := dbCreateSession(s.db, row); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	token, err := s.signToken(row.ID, now)
	if err != nil {
		return "", err
	}
	s.logger.Debug("Session opened", "session_id", row.ID, "database", database)
	return token, nil
}

// session resolves a token to its live session row.
func (s *Server) session(token string) (*sessionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, err := s.verifyToken(token)
	if err != nil {
		return nil, err
	}
	return dbGetSession(s.db, id)
}

// CloseSession forgets the session. Closing a session the server no longer
// knows succeeds.
func (s *Server) CloseSession(ctx context.Context, token string) error {
	row, err := s.session(token)
	if errors.Is(err, driver.ErrSessionInvalidated) {
		return nil
	}
	if err != nil {
		return err
	}
	return dbDeleteSession(s.db, row.ID)
}

func (s *Server) PulseSession(ctx context.Context, token string) error {
	row, err := s.session(token)
	if err != nil {
		return err
	}
	return dbTouchSession(s.db, row.ID, time.Now().UTC())
}

func (s *Server) OpenTransaction(ctx context.Context, sessionToken string, txType driver.TransactionType, opts driver.Options) (string, error) {
	session, err := s.session(sessionToken)
	if err != nil {
		return "", err
	}
	row := &transactionRow{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		TxType:    txType,
		CreatedAt: time.Now().UTC(),
	}
	if err := dbCreateTransaction(s.db, row); err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}
	return row.ID, nil
}

// Write records a write in the transaction. Schema writes need a schema
// session and data writes a data session.
func (s *Server) Write(ctx context.Context, txID string, schema bool) error {
	tx, err := dbGetTransaction(s.db, txID)
	if err != nil {
		return err
	}
	if tx.TxType != driver.WriteTransaction {
		return ErrReadOnly
	}
	session, err := dbGetSession(s.db, tx.SessionID)
	if err != nil {
		return err
	}
	if schema != (session.SessionType == driver.SchemaSession) {
		return fmt.Errorf("%w: %s write in a %s session", driver.ErrSessionTypeMismatch, writeKind(schema), session.SessionType)
	}
	return dbRecordWrite(s.db, txID)
}

func writeKind(schema bool) string {
	if schema {
		return "schema"
	}
	return "data"
}

func (s *Server) CommitTransaction(ctx context.Context, txID string) error {
	tx, err := dbGetTransaction(s.db, txID)
	if err != nil {
		return err
	}
	return dbCommitTransaction(s.db, tx)
}

func (s *Server) RollbackTransaction(ctx context.Context, txID string) error {
	if _, err := dbGetTransaction(s.db, txID); err != nil {
		return err
	}
	return dbResetWrites(s.db, txID)
}

func (s *Server) CloseTransaction(ctx context.Context, txID string) error {
	return dbDeleteTransaction(s.db, txID)
}

type sessionClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// signToken issues the token of a session. The caller holds mu.
func (s *Server) signToken(sessionID string, issuedAt time.Time) (string, error) {
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return tokenString, nil
}

// verifyToken returns the session id a token was issued for. Tokens from an
// earlier boot fail with ErrSessionInvalidated. The caller holds mu.
func (s *Server) verifyToken(tokenString string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", driver.ErrSessionInvalidated, err)
	}
	return claims.SessionID, nil
}
