package sqldb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DB is a session bound to a single MySQL connection. It compiles binds into
// the statement text, runs it, and keeps the most recent Result.
// A DB is NOT safe for concurrent use.
type DB struct {
	cfg      Config
	pool     *sql.DB
	conn     *sql.Conn
	ownsPool bool
	esc      *Escaper
	compiler *Compiler
	result   *Result
	log      zerolog.Logger
	id       string
	closed   bool
}

// setNoBackslashEscapes adds NO_BACKSLASH_ESCAPES to the session sql_mode,
// keeping the modes already set. Escaper output relies on it.
const setNoBackslashEscapes = "SET SESSION sql_mode = CONCAT_WS(',', NULLIF(@@SESSION.sql_mode, ''), 'NO_BACKSLASH_ESCAPES')"

// Option customizes a session.
type Option func(*options)

type options struct {
	logger     *zerolog.Logger
	onMismatch MismatchFunc
}

// WithLogger sets the logger used for session events. Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithMismatchHook replaces the default warning logged when Compile leaves a
// statement unchanged because of a bind-count mismatch.
func WithMismatchHook(fn MismatchFunc) Option {
	return func(o *options) { o.onMismatch = fn }
}

// Open connects to the server described by cfg, waiting at most
// cfg.ConnectTimeout, applies cfg.Charset and enables NO_BACKSLASH_ESCAPES. Empty fields take their
// defaults. There is no retry; failures are *ConfigError or *ConnectionError.
func Open(ctx context.Context, cfg Config, opts ...Option) (*DB, error) {
	cfg = cfg.withDefaults()
	if cfg.Hostname == "" {
		return nil, &ConfigError{Key: "hostname", Err: ErrInvalidOption}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(cfg.driverConfig())
	if err != nil {
		return nil, newConnectionError(cfg.addr(), err)
	}
	pool := sql.OpenDB(connector)
	// One connection per session: the pool only hands out the pinned conn.
	pool.SetMaxOpenConns(1)

	return attach(ctx, pool, cfg, true, opts)
}

// Attach starts a session on a connection taken from an existing handle.
// The connection is set up as in Open. Closing the session releases that
// connection but leaves db open.
func Attach(ctx context.Context, db *sql.DB, cfg Config, opts ...Option) (*DB, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return attach(ctx, db, cfg, false, opts)
}

// WithSession opens a session, passes it to fn and closes it on every exit
// path, panics included. A Close error is returned only if fn succeeded.
func WithSession(ctx context.Context, cfg Config, fn func(*DB) error, opts ...Option) error {
	return scoped(func() (*DB, error) { return Open(ctx, cfg, opts...) }, fn)
}

func scoped(open func() (*DB, error), fn func(*DB) error) (err error) {
	s, err := open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func attach(ctx context.Context, pool *sql.DB, cfg Config, owns bool, opts []Option) (*DB, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := zerolog.Nop()
	if o.logger != nil {
		logger = *o.logger
	}

	s := &DB{
		cfg:      cfg,
		pool:     pool,
		ownsPool: owns,
		id:       uuid.NewString(),
	}
	s.log = logger.With().Str("component", "sqldb").Str("session", s.id).Logger()

	onMismatch := o.onMismatch
	if onMismatch == nil {
		onMismatch = s.logMismatch
	}
	s.esc = NewEscaper(cfg)
	s.compiler = NewCompiler(cfg, s.esc, onMismatch)

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := pool.Conn(cctx)
	if err == nil {
		err = conn.PingContext(cctx)
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		if owns {
			_ = pool.Close()
		}
		s.log.Error().Err(err).Str("addr", cfg.addr()).Msg("connect failed")
		return nil, newConnectionError(cfg.addr(), err)
	}
	s.conn = conn

	if err := s.SetCharset(cctx, cfg.Charset); err != nil {
		_ = s.Close()
		return nil, newConnectionError(cfg.addr(), err)
	}
	if _, err := s.conn.ExecContext(cctx, setNoBackslashEscapes); err != nil {
		_ = s.Close()
		return nil, newConnectionError(cfg.addr(), err)
	}

	s.log.Debug().Str("addr", cfg.addr()).Str("charset", cfg.Charset).Msg("connected")
	return s, nil
}

// ID returns the session identifier attached to every log event.
func (s *DB) ID() string { return s.id }

// Config returns the effective configuration, defaults applied.
func (s *DB) Config() Config { return s.cfg }

// SetCharset sets the client character set with SET NAMES.
func (s *DB) SetCharset(ctx context.Context, name string) error {
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return ErrNotConnected
	}
	if !validCharset(name) {
		return &ConfigError{Key: "charset", Err: ErrInvalidCharset}
	}
	if _, err := s.conn.ExecContext(ctx, "SET NAMES "+name); err != nil {
		return err
	}
	s.cfg.Charset = name
	return nil
}

// Query is a convenience that runs QueryContext with context.Background().
func (s *DB) Query(query string, binds ...any) (*Result, error) {
	return s.QueryContext(context.Background(), query, binds...)
}

// QueryContext compiles binds into query, frees the previous result and runs
// the statement text verbatim. The returned Result is also kept as the
// session's current result until the next query, FreeResult or Close.
func (s *DB) QueryContext(ctx context.Context, query string, binds ...any) (*Result, error) {
	q, err := s.prepare(query, binds)
	if err != nil {
		return nil, err
	}
	s.FreeResult()

	rows, err := s.conn.QueryContext(ctx, q)
	if err != nil {
		s.log.Debug().Err(err).Str("sql", q).Msg("query failed")
		return nil, newQueryError(q, err)
	}
	s.log.Debug().Str("sql", q).Msg("query")
	s.result = newResult(rows)
	return s.result, nil
}

// Exec is a convenience that runs ExecContext with context.Background().
func (s *DB) Exec(query string, binds ...any) (sql.Result, error) {
	return s.ExecContext(context.Background(), query, binds...)
}

// ExecContext compiles binds into query and runs a statement that returns
// no rows.
func (s *DB) ExecContext(ctx context.Context, query string, binds ...any) (sql.Result, error) {
	q, err := s.prepare(query, binds)
	if err != nil {
		return nil, err
	}
	s.FreeResult()

	res, err := s.conn.ExecContext(ctx, q)
	if err != nil {
		s.log.Debug().Err(err).Str("sql", q).Msg("exec failed")
		return nil, newQueryError(q, err)
	}
	s.log.Debug().Str("sql", q).Msg("exec")
	return res, nil
}

// prepare validates the session and statement and compiles the binds.
func (s *DB) prepare(query string, binds []any) (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	if strings.TrimSpace(query) == "" {
		return "", &QueryError{SQL: query, Err: ErrEmptyQuery}
	}
	return s.compiler.Compile(query, binds...), nil
}

// Result returns the current result, or nil once it has been released.
func (s *DB) Result() *Result {
	if s.result == nil || s.result.freed() {
		return nil
	}
	return s.result
}

// Compile substitutes bind markers; see Compiler.Compile.
func (s *DB) Compile(query string, binds ...any) string {
	return s.compiler.Compile(query, binds...)
}

// Escape renders v as a SQL literal; see Escaper.Escape.
func (s *DB) Escape(v any) string { return s.esc.Escape(v) }

// EscapeString escapes s for use inside a quoted literal.
func (s *DB) EscapeString(str string) string { return s.esc.EscapeString(str) }

// EscapeLike escapes s for use inside a LIKE pattern followed by LikeEscapeClause.
func (s *DB) EscapeLike(str string) string { return s.esc.EscapeLike(str) }

// LikeEscapeClause returns the ESCAPE clause matching EscapeLike.
func (s *DB) LikeEscapeClause() string { return s.esc.LikeEscapeClause() }

// EscapeIdentifier quotes a table or column name.
func (s *DB) EscapeIdentifier(name string) string { return s.esc.EscapeIdentifier(name) }

// FreeResult releases the current result, if any. Safe to call repeatedly.
func (s *DB) FreeResult() {
	if s.result != nil {
		_ = s.result.Free()
		s.result = nil
	}
}

// Close releases the current result and the connection. It is safe to call
// Close multiple times; subsequent calls are no-ops.
func (s *DB) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.FreeResult()

	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.ownsPool && s.pool != nil {
		if perr := s.pool.Close(); err == nil {
			err = perr
		}
	}
	s.pool = nil
	s.log.Debug().Msg("closed")
	return err
}

func (s *DB) logMismatch(m Mismatch) {
	s.log.Warn().
		Int("placeholders", m.Placeholders).
		Int("binds", m.Binds).
		Str("sql", m.Template).
		Msg("bind count mismatch; statement left unchanged")
}
