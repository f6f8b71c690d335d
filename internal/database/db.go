package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// 結果キャッシュDBの種別。
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ParseURL は結果キャッシュDBのURLからドライバ名とドライバ向けDSNを返す。
// 対応: "sqlite3://path/to.db"、"postgres://..."、"postgresql://..."。
func ParseURL(databaseURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		path := strings.TrimPrefix(databaseURL, "sqlite3://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite3 URL has no path: %q", databaseURL)
		}
		return DriverSQLite, path, nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL, nil
	}
	return "", "", fmt.Errorf("unsupported database URL: %q", databaseURL)
}

// Open は結果キャッシュDBへの接続を開く。
// SQLiteの場合は親ディレクトリを作成し、書き込みの直列化のため接続を1本に制限する。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sqlx.DB, error) {
	driver, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}
