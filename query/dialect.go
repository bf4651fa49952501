package query

import (
	"strconv"
	"strings"
)

// Dialect captures the syntax differences between the supported databases.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2) instead of "?".
	Numbered bool
	// Quote character for identifiers.
	Quote byte
	// Returning reports support for INSERT ... RETURNING.
	Returning bool
}

var (
	SQLite   = Dialect{Name: "sqlite3", Quote: '"'}
	Postgres = Dialect{Name: "postgres", Numbered: true, Quote: '"', Returning: true}
	MySQL    = Dialect{Name: "mysql", Quote: '`'}
)

// DialectFor maps a database/sql driver name to its dialect. Unknown names
// fall back to SQLite.
func DialectFor(driverName string) Dialect {
	switch strings.ToLower(driverName) {
	case "postgres", "pgx":
		return Postgres
	case "mysql":
		return MySQL
	default:
		return SQLite
	}
}

func (d Dialect) placeholder(n int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) quote(name string) string {
	q := d.Quote
	if q == 0 {
		q = '"'
	}
	return string(q) + name + string(q)
}
