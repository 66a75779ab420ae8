package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// サポートするストアドライバ名。
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open はストアドライバに応じたデータベース接続を開く。
// postgresの場合、sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
// sqliteの場合は端末ローカルのファイルを開き、未適用のマイグレーションを適用してから返す。
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil

	case DriverSQLite:
		if err := RunMigrations(driver, dsn); err != nil {
			return nil, err
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// 単一ファイルへの書き込みを直列化する
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}
