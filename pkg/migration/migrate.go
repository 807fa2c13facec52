// Package migration はSQLiteデータベースのスキーマ適用を管理する。
// embed.FSに同梱したSQLファイルをバージョン順に適用し、
// 適用状態はバージョン管理テーブルで追跡する。
package migration

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strconv"
	"strings"
)

// migrationsTable はバージョン管理テーブルの作成SQL。
const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
)
`

// step は1つのマイグレーションファイルを表す。
// ファイル名形式: 000001_description.up.sql
type step struct {
	// version はマイグレーションの適用順序を決める番号。
	version int
	// name はファイル名から取り出した説明部分。
	name string
	// path はfsys内のファイルパス。
	path string
}

// Run は未適用のマイグレーションをバージョン順に適用する。
// 適用済みのバージョンはスキップするため、起動のたびに呼び出して問題ない。
func Run(db *sql.DB, fsys fs.FS, dir string) error {
	if _, err := db.Exec(migrationsTable); err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	current, err := Version(db)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	steps, err := loadSteps(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	for _, st := range steps {
		if st.version <= current {
			continue
		}
		if err := apply(db, fsys, st); err != nil {
			return fmt.Errorf("マイグレーション %06d の適用に失敗: %w", st.version, err)
		}
		log.Printf("[Migration] マイグレーション %06d_%s を適用しました", st.version, st.name)
	}

	return nil
}

// Version は適用済みの最新バージョンを返す。未適用の場合は0を返す。
func Version(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// loadSteps はディレクトリからup.sqlファイルを収集してバージョン順に並べる。
// 形式に合わないファイルは無視する。
func loadSteps(fsys fs.FS, dir string) ([]step, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var steps []step
	for _, entry := range entries {
		st, ok := parseFileName(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		st.path = dir + "/" + entry.Name()
		steps = append(steps, st)
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// parseFileName はファイル名をバージョンと説明に分解する。
func parseFileName(name string) (step, bool) {
	if !strings.HasSuffix(name, ".up.sql") {
		return step{}, false
	}
	parts := strings.SplitN(name, "_", 2)
	if len(parts) < 2 {
		return step{}, false
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return step{}, false
	}
	return step{
		version: version,
		name:    strings.TrimSuffix(parts[1], ".up.sql"),
	}, true
}

// apply は1つのマイグレーションをトランザクション内で適用し、バージョンを記録する。
func apply(db *sql.DB, fsys fs.FS, st step) error {
	content, err := fs.ReadFile(fsys, st.path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", st.version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}

	return tx.Commit()
}
