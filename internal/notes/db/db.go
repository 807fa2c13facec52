// Package db はノートテーブルへのクエリ実行層を提供する。
package db

import (
	"context"
	"database/sql"
)

// DBTX はクエリ実行に必要なデータベース操作を表す。
// *sql.DB と *sql.Tx の両方がこのインターフェースを満たす。
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries はノートテーブルへのクエリをまとめた実行オブジェクト。
type Queries struct {
	db DBTX
}
