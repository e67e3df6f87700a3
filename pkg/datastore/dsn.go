package datastore

import (
	"regexp"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// mysqlBareHostPort matches "user:pass@host:port/db" without the tcp()
// wrapper.
var mysqlBareHostPort = regexp.MustCompile(`^(.+)@([^(@]+:\d+)(/.*)?$`)

// NormalizeMySQLDSN rewrites the DSN shapes plugin configs usually carry
// into the user:pass@tcp(host:port)/db form go-sql-driver requires:
//
//	user:pass@host:port/db      -> missing tcp() wrapper
//	user:pass@(host:port)/db    -> missing "tcp" before parens
//	user:pass@tcp(host:port)/db -> unchanged
//
// Unparseable input is returned as-is so the connect error is reported
// against what the operator wrote.
func NormalizeMySQLDSN(dsn string) string {
	if cfg, err := mysqldriver.ParseDSN(dsn); err == nil && (cfg.Net == "tcp" || cfg.Net == "unix") {
		return cfg.FormatDSN()
	}

	if idx := strings.LastIndex(dsn, "@("); idx >= 0 {
		fixed := dsn[:idx] + "@tcp" + dsn[idx+1:]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	if m := mysqlBareHostPort.FindStringSubmatch(dsn); m != nil {
		fixed := m[1] + "@tcp(" + m[2] + ")" + m[3]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	return dsn
}
