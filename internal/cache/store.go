// Package cache はノート一覧のルックアップキャッシュを提供する。
// キャッシュは導出データであり、常にSQLiteの内容が正となる。
// 書き込み時は更新ではなく削除（invalidate-on-write）で整合性を保つ。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss はキーに対応するエントリが存在しないことを表す。
var ErrMiss = errors.New("キャッシュエントリが存在しません")

// Store はTTL付きのキー/バリューストアを表す。
// 実装としてインメモリ版（Memory）とRedis版（Redis）がある。
type Store interface {
	// Get はキーに対応する値を返す。存在しない・期限切れの場合はErrMissを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set はキーに値をTTL付きで保存する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete はキーを削除する。エントリが存在して削除された場合はtrueを返す。
	Delete(ctx context.Context, key string) (bool, error)
}

// NotesKey はユーザーのノート一覧キャッシュのキーを生成する。
func NotesKey(userID string) string {
	return fmt.Sprintf("user:%s:notes", userID)
}
