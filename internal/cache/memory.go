package cache

import (
	"context"
	"sync"
	"time"
)

// memoryEntry はインメモリキャッシュの1エントリ。
type memoryEntry struct {
	// value は保存された値。
	value []byte
	// expiresAt はエントリの有効期限。
	expiresAt time.Time
}

// Memory はプロセス内メモリ上のStore実装。
// Redisが構成されていない開発環境とテストで使用する。
type Memory struct {
	// mu はentriesへのアクセスを保護する。
	mu sync.RWMutex
	// entries はキーからエントリへのマップ。
	entries map[string]memoryEntry
	// stop は掃除用ゴルーチンの停止チャネル。
	stop chan struct{}
	// stopOnce はstopの二重クローズを防ぐ。
	stopOnce sync.Once
}

// NewMemory は新しいインメモリキャッシュを生成する。
// 期限切れエントリを定期的に掃除するゴルーチンを起動する。
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go m.purgeLoop(time.Minute)
	return m
}

// Get はキーに対応する値を返す。存在しない・期限切れの場合はErrMissを返す。
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrMiss
	}
	return entry.value, nil
}

// Set はキーに値をTTL付きで保存する。
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

// Delete はキーを削除する。エントリが存在して削除された場合はtrueを返す。
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// Close は掃除用ゴルーチンを停止する。複数回呼び出しても安全。
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// purgeLoop は期限切れエントリを定期的に削除する。
func (m *Memory) purgeLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			m.purge()
		case <-m.stop:
			return
		}
	}
}

// purge は期限切れエントリをすべて削除する。
func (m *Memory) purge() {
	now := time.Now()
	m.mu.Lock()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}
