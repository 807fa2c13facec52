package migration

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

// newTestDB はテスト用のインメモリSQLiteを生成する。
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDB接続に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("ファイルをバージョン順に適用する", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		fsys := fstest.MapFS{
			// ファイル名の辞書順とは逆に並べてもバージョン順で適用される
			"migrations/000002_add_column.up.sql": &fstest.MapFile{
				Data: []byte("ALTER TABLE items ADD COLUMN name TEXT NOT NULL DEFAULT ''"),
			},
			"migrations/000001_create_items.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY)"),
			},
		}

		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("Runに失敗: %v", err)
		}

		if _, err := db.Exec("INSERT INTO items (id, name) VALUES ('a', 'テスト')"); err != nil {
			t.Errorf("適用後のテーブルへの挿入に失敗: %v", err)
		}
		version, err := Version(db)
		if err != nil {
			t.Fatalf("Versionに失敗: %v", err)
		}
		if version != 2 {
			t.Errorf("バージョン: got %d, want 2", version)
		}
	})

	t.Run("二重に実行しても適用済みのファイルはスキップする", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		fsys := fstest.MapFS{
			// IF NOT EXISTSなしのため再適用されるとエラーになる
			"migrations/000001_create_items.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY)"),
			},
		}

		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("1回目のRunに失敗: %v", err)
		}
		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("2回目のRunに失敗: %v", err)
		}
	})

	t.Run("形式に合わないファイルは無視する", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		fsys := fstest.MapFS{
			"migrations/README.md": &fstest.MapFile{
				Data: []byte("# メモ"),
			},
			"migrations/bad_version.up.sql": &fstest.MapFile{
				Data: []byte("SELECT 1"),
			},
			"migrations/000001_create_items.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY)"),
			},
		}

		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("Runに失敗: %v", err)
		}
		version, err := Version(db)
		if err != nil {
			t.Fatalf("Versionに失敗: %v", err)
		}
		if version != 1 {
			t.Errorf("バージョン: got %d, want 1", version)
		}
	})

	t.Run("不正なSQLは適用されずエラーを返す", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000001_broken.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABL items"),
			},
		}

		if err := Run(db, fsys, "migrations"); err == nil {
			t.Fatal("エラーを期待しましたがnilでした")
		}
		version, err := Version(db)
		if err != nil {
			t.Fatalf("Versionに失敗: %v", err)
		}
		if version != 0 {
			t.Errorf("バージョン: got %d, want 0", version)
		}
	})
}

// TestParseFileName はファイル名の解析を検証する。
func TestParseFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		fileName    string
		wantVersion int
		wantName    string
		wantOK      bool
	}{
		{"正常な形式", "000001_create_items.up.sql", 1, "create_items", true},
		{"説明にアンダースコアを含む", "000010_add_user_index.up.sql", 10, "add_user_index", true},
		{"拡張子が違う", "000001_create_items.down.sql", 0, "", false},
		{"バージョンが数値でない", "abc_create_items.up.sql", 0, "", false},
		{"アンダースコアがない", "000001.up.sql", 0, "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st, ok := parseFileName(tt.fileName)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if st.version != tt.wantVersion {
				t.Errorf("version: got %d, want %d", st.version, tt.wantVersion)
			}
			if st.name != tt.wantName {
				t.Errorf("name: got %s, want %s", st.name, tt.wantName)
			}
		})
	}
}
