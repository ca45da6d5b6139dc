package driver

import "context"

// Transport carries session and transaction requests to the server.
//
// Session tokens identify the server-side session; a token changes when the
// session is reopened. PulseSession must report ErrSessionInvalidated (wrapped
// or not) when the server no longer knows the token.
type Transport interface {
	DatabaseExists(ctx context.Context, name string) (bool, error)

	OpenSession(ctx context.Context, database string, sessionType SessionType, opts Options) (string, error)
	CloseSession(ctx context.Context, token string) error
	PulseSession(ctx context.Context, token string) error

	OpenTransaction(ctx context.Context, sessionToken string, txType TransactionType, opts Options) (string, error)
	CommitTransaction(ctx context.Context, txID string) error
	RollbackTransaction(ctx context.Context, txID string) error
	CloseTransaction(ctx context.Context, txID string) error
}
