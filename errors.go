package sqldb

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrEmptyConfig     = errors.New("sqldb: empty configuration")
	ErrUnknownOption   = errors.New("sqldb: unknown configuration option")
	ErrInvalidOption   = errors.New("sqldb: invalid configuration value")
	ErrEmptyQuery      = errors.New("sqldb: empty query")
	ErrClosed          = errors.New("sqldb: session closed")
	ErrInvalidCharset  = errors.New("sqldb: invalid character set name")
	ErrNotConnected    = errors.New("sqldb: not connected")
	ErrUnsupportedDest = errors.New("sqldb: unsupported scan destination")
)

// ConfigError reports a configuration option that could not be accepted.
// Key is empty when the configuration as a whole is rejected.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %q", e.Err, e.Key)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectionError reports a failure to reach or initialize the server.
// Code and Message carry the server-provided error when there is one.
type ConnectionError struct {
	Addr    string
	Code    uint16
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("sqldb: connect error (%d) %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sqldb: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a statement that was rejected locally or by the server.
type QueryError struct {
	SQL     string
	Code    uint16
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("sqldb: query error (%d) %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sqldb: invalid query %q: %v", e.SQL, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func newConnectionError(addr string, err error) *ConnectionError {
	ce := &ConnectionError{Addr: addr, Err: err}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		ce.Code = me.Number
		ce.Message = me.Message
	}
	return ce
}

func newQueryError(sql string, err error) *QueryError {
	qe := &QueryError{SQL: sql, Err: err}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		qe.Code = me.Number
		qe.Message = me.Message
	}
	return qe
}
