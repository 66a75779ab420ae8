package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// DefaultNamespace は名前空間を指定しない場合に使用する値。
// 共有のPostgreSQLに複数端末のセッションを保存する場合は端末ごとに名前空間を分ける。
const DefaultNamespace = "default"

// dialect はドライバごとのSQL方言を表す。
type dialect struct {
	name        string
	placeholder func(n int) string
	now         string
}

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	now:         "now()",
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	now:         "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')",
}

// sqlKVRepo はkv_entriesテーブルを使用するKeyValueRepositoryの共通実装。
type sqlKVRepo struct {
	db        *sql.DB
	namespace string
	dialect   dialect
}

func newSQLKVRepo(db *sql.DB, namespace string, d dialect) *sqlKVRepo {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &sqlKVRepo{db: db, namespace: namespace, dialect: d}
}

// Get は指定キーの値を取得する。存在しない場合はfound=falseを返す。
func (r *sqlKVRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(
		`SELECT value FROM kv_entries WHERE namespace = %s AND key = %s`,
		r.dialect.placeholder(1), r.dialect.placeholder(2),
	)

	var value []byte
	err := r.db.QueryRowContext(ctx, query, r.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s entry %q: %w", r.dialect.name, key, err)
	}

	return value, true, nil
}

// SetMany は複数のキーを同一トランザクションで書き込む。
// 既存キーは上書きする。
func (r *sqlKVRepo) SetMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO kv_entries (namespace, key, value, updated_at)
		 VALUES (%s, %s, %s, %s)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		r.dialect.placeholder(1), r.dialect.placeholder(2), r.dialect.placeholder(3), r.dialect.now,
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 書き込み順を固定してロック順序を安定させる
	for _, key := range sortedKeys(entries) {
		if _, err := tx.ExecContext(ctx, query, r.namespace, key, entries[key]); err != nil {
			return fmt.Errorf("failed to set entry %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteMany は複数のキーを同一トランザクションで削除する。
func (r *sqlKVRepo) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`DELETE FROM kv_entries WHERE namespace = %s AND key = %s`,
		r.dialect.placeholder(1), r.dialect.placeholder(2),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, query, r.namespace, key); err != nil {
			return fmt.Errorf("failed to delete entry %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PostgresKVRepo はPostgreSQLを使用したKeyValueRepository。
type PostgresKVRepo struct {
	*sqlKVRepo
}

// NewPostgresKVRepo はPostgresKVRepoを生成する。
func NewPostgresKVRepo(db *sql.DB, namespace string) *PostgresKVRepo {
	return &PostgresKVRepo{sqlKVRepo: newSQLKVRepo(db, namespace, postgresDialect)}
}

// SQLiteKVRepo は端末ローカルのSQLiteファイルを使用したKeyValueRepository。
type SQLiteKVRepo struct {
	*sqlKVRepo
}

// NewSQLiteKVRepo はSQLiteKVRepoを生成する。
func NewSQLiteKVRepo(db *sql.DB, namespace string) *SQLiteKVRepo {
	return &SQLiteKVRepo{sqlKVRepo: newSQLKVRepo(db, namespace, sqliteDialect)}
}

// compile-time interface check
var (
	_ KeyValueRepository = (*PostgresKVRepo)(nil)
	_ KeyValueRepository = (*SQLiteKVRepo)(nil)
)
