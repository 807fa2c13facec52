package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis はRedisをバックエンドとするStore実装。
// REDIS_URLが設定されている本番環境で使用する。
type Redis struct {
	// client はRedisクライアント。
	client *redis.Client
}

// NewRedis は新しいRedisキャッシュを生成する。
// rawURLは "redis://host:port" 形式。passwordが空でない場合は
// マネージドRedis（Upstash等）向けにTLSを有効にする。
func NewRedis(rawURL, password string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("Redis URLの解析に失敗: %w", err)
	}

	if password != "" {
		opts.Password = password
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Redis{client: redis.NewClient(opts)}, nil
}

// Ping はRedisへの疎通を確認する。
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return nil
}

// Get はキーに対応する値を返す。存在しない場合はErrMissを返す。
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("キャッシュの取得に失敗: %w", err)
	}
	return value, nil
}

// Set はキーに値をTTL付きで保存する。
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュの保存に失敗: %w", err)
	}
	return nil
}

// Delete はキーを削除する。エントリが存在して削除された場合はtrueを返す。
func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("キャッシュの削除に失敗: %w", err)
	}
	return removed > 0, nil
}

// Close はRedisクライアントを閉じる。
func (r *Redis) Close() error {
	return r.client.Close()
}
