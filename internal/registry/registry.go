package registry

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultWriteTimeout は1回の送信のデフォルト期限。
const defaultWriteTimeout = 5 * time.Second

// Registry はアカウント識別子ごとのライブセッション集合を管理する。
// すべてのマップ操作は単一のRWMutexで直列化され、
// 読み手（ディスパッチャ）が中途半端な状態を観測することはない。
type Registry struct {
	// mu はbyUserへのアクセスを保護する。
	mu sync.RWMutex
	// byUser はアカウントID -> セッションID -> セッションのマップ。
	// 不変条件: キーが存在するアカウントのセッションマップは常に非空。
	byUser map[string]map[string]*Session
	// writeTimeout は各セッションの1回の送信の期限。
	writeTimeout time.Duration
}

// New は新しいレジストリを生成する。
func New() *Registry {
	return &Registry{
		byUser:       make(map[string]map[string]*Session),
		writeTimeout: defaultWriteTimeout,
	}
}

// Connect は受け入れ済みのトランスポートをアカウント配下に登録し、セッションを返す。
// セッションIDはプロセスの生存期間中衝突しないUUIDを採番する。
// トランスポートの受け入れ・クローズはここでは行わない。
// 同一アカウントの複数セッションは想定内であり、既存セッションは置き換えない。
func (r *Registry) Connect(transport Transport, userID string) *Session {
	sess := &Session{
		id:           uuid.New().String(),
		userID:       userID,
		transport:    transport,
		writeTimeout: r.writeTimeout,
		state:        stateOpen,
	}

	r.mu.Lock()
	sessions, ok := r.byUser[userID]
	if !ok {
		sessions = make(map[string]*Session)
		r.byUser[userID] = sessions
	}
	sessions[sess.id] = sess
	r.mu.Unlock()

	log.Printf("WebSocket接続を登録: user=%s session=%s", userID, sess.id)
	return sess
}

// Disconnect は指定セッションをレジストリから除去する。
// closeがtrueの場合はトランスポートの正常クローズも試みる。
// 冪等であり、既に除去済みのセッションに対する呼び出しはエラーにならない。
// 複数の終了経路（読み取りループと外部クリーンアップ）から同時に呼ばれても安全。
func (r *Registry) Disconnect(userID, sessionID string, close bool) {
	r.mu.Lock()
	sessions, ok := r.byUser[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess, ok := sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	if close {
		sess.close()
	} else {
		sess.markClosed()
	}
	log.Printf("WebSocket接続を解除: user=%s session=%s", userID, sessionID)
}

// DisconnectAll はアカウントの全セッションを除去する。
// closeがtrueの場合は各トランスポートの正常クローズも試みる。
func (r *Registry) DisconnectAll(userID string, close bool) {
	r.mu.Lock()
	sessions, ok := r.byUser[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byUser, userID)
	r.mu.Unlock()

	for _, sess := range sessions {
		if close {
			sess.close()
		} else {
			sess.markClosed()
		}
	}
	log.Printf("全WebSocket接続を解除: user=%s count=%d", userID, len(sessions))
}

// IsPresent はアカウントがライブセッションを1つ以上持つ場合にtrueを返す。
func (r *Registry) IsPresent(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Sessions はアカウントの現在のセッション一覧のスナップショットを返す。
// ディスパッチャのファンアウトで使用する。
func (r *Registry) Sessions(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.byUser[userID]))
	for _, sess := range r.byUser[userID] {
		sessions = append(sessions, sess)
	}
	return sessions
}

// UserIDs は現在セッションを持つ全アカウントのスナップショットを返す。
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userIDs := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		userIDs = append(userIDs, userID)
	}
	return userIDs
}

// Count はアカウントのライブセッション数を返す。
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}
