// Package sqldb is a small MySQL session helper for code that builds SQL as text: it substitutes positional ? markers with escaped literals (skipping markers inside quoted strings, expanding slices into IN lists), runs the statement on a single connection, and fetches rows as maps or structs — no query builder, no pool, no prepared-statement protocol.

package sqldb
