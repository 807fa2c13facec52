// Package dispatch は変更イベントをアカウントのライブセッションへファンアウトする。
// 配信はセッションごとにベストエフォートで行い、失敗したセッションはレジストリから除去する。
package dispatch

import (
	"log"

	"github.com/nao1215/notehub/internal/registry"
	"github.com/nao1215/notehub/pkg/event"
)

// Dispatcher はイベントをアカウントの全セッションに配信する。
// 同一アカウントに対しては呼び出し順がそのまま配信順になる。
type Dispatcher struct {
	// registry はライブセッションの管理元。
	registry *registry.Registry
}

// New は新しいディスパッチャを生成する。
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// SendToUser はイベントをアカウントの全ライブセッションに配信する。
// excludeSessionIDが空でない場合、そのセッションには配信しない
// （変更元セッションへのエコーバック回避に使う）。
// 各セッションへの配信は独立しており、1つの失敗が他の配信を妨げることはない。
// 配信に失敗したセッションはトランスポートを閉じずにレジストリから除去する
// （相手側が既に切断済みのため、二重クローズを避ける）。
func (d *Dispatcher) SendToUser(userID string, ev *event.Event, excludeSessionID string) {
	var dead []string
	for _, sess := range d.registry.Sessions(userID) {
		if sess.ID() == excludeSessionID {
			continue
		}
		if err := sess.Send(ev); err != nil {
			log.Printf("イベント配信に失敗: user=%s session=%s type=%s: %v", userID, sess.ID(), ev.Type, err)
			dead = append(dead, sess.ID())
		}
	}

	for _, sessionID := range dead {
		d.registry.Disconnect(userID, sessionID, false)
	}
}

// Broadcast はイベントを全アカウントの全セッションに配信する。
// excludeUserIDが空でない場合、そのアカウントには配信しない。
// プロセス全体への告知等、まれな用途のみを想定している。
func (d *Dispatcher) Broadcast(ev *event.Event, excludeUserID string) {
	for _, userID := range d.registry.UserIDs() {
		if userID == excludeUserID {
			continue
		}
		d.SendToUser(userID, ev, "")
	}
}
