package driver

import "time"

// SessionType selects what a session may change.
type SessionType int

const (
	DataSession SessionType = iota
	SchemaSession
)

func (t SessionType) String() string {
	switch t {
	case DataSession:
		return "data"
	case SchemaSession:
		return "schema"
	default:
		return "unknown"
	}
}

// TransactionType selects whether a transaction may write.
type TransactionType int

const (
	ReadTransaction TransactionType = iota
	WriteTransaction
)

func (t TransactionType) String() string {
	switch t {
	case ReadTransaction:
		return "read"
	case WriteTransaction:
		return "write"
	default:
		return "unknown"
	}
}

// Options are passed through to the server when opening sessions and
// transactions. Nil fields use the server defaults.
type Options struct {
	Infer                    *bool
	TraceInference           *bool
	Explain                  *bool
	Parallel                 *bool
	Prefetch                 *bool
	PrefetchSize             *int
	SessionIdleTimeout       *time.Duration
	TransactionTimeout       *time.Duration
	SchemaLockAcquireTimeout *time.Duration
	ReadAnyReplica           *bool
}

// Option sets one field of Options.
type Option func(*Options)

// NewOptions builds Options from the given settings.
func NewOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithInfer(enabled bool) Option {
	return func(o *Options) {
		o.Infer = &enabled
	}
}

func WithTraceInference(enabled bool) Option {
	return func(o *Options) {
		o.TraceInference = &enabled
	}
}

func WithExplain(enabled bool) Option {
	return func(o *Options) {
		o.Explain = &enabled
	}
}

func WithParallel(enabled bool) Option {
	return func(o *Options) {
		o.Parallel = &enabled
	}
}

func WithPrefetch(enabled bool) Option {
	return func(o *Options) {
		o.Prefetch = &enabled
	}
}

func WithPrefetchSize(size int) Option {
	return func(o *Options) {
		o.PrefetchSize = &size
	}
}

func WithSessionIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.SessionIdleTimeout = &d
	}
}

func WithTransactionTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.TransactionTimeout = &d
	}
}

func WithSchemaLockAcquireTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.SchemaLockAcquireTimeout = &d
	}
}

func WithReadAnyReplica(enabled bool) Option {
	return func(o *Options) {
		o.ReadAnyReplica = &enabled
	}
}
