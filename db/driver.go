package db

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DriverOptions are connection settings in driver-neutral form.
type DriverOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	// Database is the database name, or the file path for SQLite.
	Database string
	SSLMode  string
	// Extra adds driver-specific DSN parameters.
	Extra map[string]string
}

// Driver describes one supported database/sql driver. Every DSN it builds
// is also accepted by golang-migrate, so one string serves the pool and the
// schema bootstrap.
type Driver struct {
	// Name is the database/sql driver name.
	Name string
	// Family groups drivers that speak the same SQL: "postgres", "mysql" or
	// "sqlite".
	Family string
	dsn    func(DriverOptions) (string, error)
}

// DSN renders opts in the driver's native format.
func (d Driver) DSN(opts DriverOptions) (string, error) {
	dsn, err := d.dsn(opts)
	if err != nil {
		return "", fmt.Errorf("socialhub/db: %s DSN: %w", d.Name, err)
	}
	return dsn, nil
}

// The database/sql registrations happen in the driver packages' init; the
// blank imports live in the cli package.
var drivers = map[string]Driver{
	"postgres": {Name: "postgres", Family: "postgres", dsn: postgresDSN},
	"pgx":      {Name: "pgx", Family: "postgres", dsn: postgresDSN},
	"mysql":    {Name: "mysql", Family: "mysql", dsn: mysqlDSN},
	"sqlite3":  {Name: "sqlite3", Family: "sqlite", dsn: sqliteDSN},
}

// LookupDriver returns the driver registered as name.
func LookupDriver(name string) (Driver, error) {
	d, ok := drivers[name]
	if !ok {
		return Driver{}, fmt.Errorf("socialhub/db: unsupported driver %q", name)
	}
	return d, nil
}

// Drivers lists the supported driver names in sorted order.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildDSN renders opts for the named driver.
func BuildDSN(driverName string, opts DriverOptions) (string, error) {
	d, err := LookupDriver(driverName)
	if err != nil {
		return "", err
	}
	return d.DSN(opts)
}

// OpenWithDriver builds the DSN from opts and opens the pool.
//
//	d, err := db.OpenWithDriver("pgx", db.DriverOptions{
//	    Host: "localhost", User: "app", Password: "secret", Database: "socialhub",
//	}, db.Config{MaxOpenConns: 25})
func OpenWithDriver(driverName string, opts DriverOptions, cfg Config) (*DB, error) {
	dsn, err := BuildDSN(driverName, opts)
	if err != nil {
		return nil, err
	}
	cfg.DriverName, cfg.DSN = driverName, dsn
	return Open(cfg)
}

// ─────────────────────────────────────────────────────────────────────────────
// DSN builders
// ─────────────────────────────────────────────────────────────────────────────

// postgresDSN renders a postgres:// URL, which lib/pq, pgx and golang-migrate
// all accept.
func postgresDSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", errors.New("host and database are required")
	}
	q := url.Values{"sslmode": {cmp.Or(o.SSLMode, "disable")}}
	for k, v := range o.Extra {
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     o.Host + ":" + strconv.Itoa(cmp.Or(o.Port, 5432)),
		Path:     "/" + o.Database,
		RawQuery: q.Encode(),
	}
	if o.User != "" {
		u.User = url.UserPassword(o.User, o.Password)
	}
	return u.String(), nil
}

// mysqlDSN enables multiStatements because each bundled migration file holds
// several statements.
func mysqlDSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", errors.New("host and database are required")
	}
	params := map[string]string{"parseTime": "true", "multiStatements": "true"}
	for k, v := range o.Extra {
		params[k] = v
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		o.User, o.Password, o.Host, cmp.Or(o.Port, 3306), o.Database, joinParams(params)), nil
}

// sqliteDSN treats Database as a file path and turns foreign keys on unless
// Extra overrides it.
func sqliteDSN(o DriverOptions) (string, error) {
	if o.Database == "" {
		return "", errors.New("database file path is required")
	}
	params := map[string]string{"_foreign_keys": "on"}
	for k, v := range o.Extra {
		params[k] = v
	}
	return o.Database + "?" + joinParams(params), nil
}

func joinParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k + "=" + params[k])
	}
	return b.String()
}
