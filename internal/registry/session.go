package registry

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport はセッションの下位トランスポートを表す。
// *websocket.Conn がこのインターフェースを満たす。テストではフェイク実装を使う。
type Transport interface {
	// WriteJSON はJSON形式でメッセージを送信する。
	WriteJSON(v any) error
	// WriteControl は制御フレーム（クローズ等）を期限付きで送信する。
	WriteControl(messageType int, data []byte, deadline time.Time) error
	// SetWriteDeadline は次の書き込みの期限を設定する。
	SetWriteDeadline(t time.Time) error
	// Close は下位コネクションを閉じる。
	Close() error
}

// sessionState はセッションの生存状態を表す。
type sessionState int

const (
	// stateOpen はセッションが送信可能であることを表す。
	stateOpen sessionState = iota
	// stateClosing はクローズ処理中であることを表す。
	stateClosing
	// stateClosed はセッションが閉じられたことを表す。
	stateClosed
)

// ErrSessionClosed は閉じられたセッションへの送信を表す。
var ErrSessionClosed = errors.New("セッションは既に閉じられています")

// Session はレジストリに登録された1つのライブ接続を表す。
// 登録後のトランスポートの所有権はレジストリにあり、
// 受け入れ側がレジストリを通さずに閉じてはならない。
type Session struct {
	// id はレジストリが採番したセッションの一意識別子。
	id string
	// userID はセッションを所有するアカウントの識別子。
	userID string
	// transport は下位トランスポート。
	transport Transport
	// writeTimeout は1回の送信の期限。遅いピアが他のセッションを塞がないようにする。
	writeTimeout time.Duration

	// mu は書き込みとstateを直列化する。
	mu sync.Mutex
	// state はセッションの生存状態。
	state sessionState
}

// ID はセッション識別子を返す。
func (s *Session) ID() string { return s.id }

// UserID はセッションを所有するアカウント識別子を返す。
func (s *Session) UserID() string { return s.userID }

// Send はメッセージをJSON形式で送信する。
// 送信ごとに書き込み期限を設定し、閉じられたセッションへの送信はエラーを返す。
func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		return ErrSessionClosed
	}

	if err := s.transport.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.transport.WriteJSON(v)
}

// close はトランスポートを正常クローズする。
// 二重クローズを防ぐため状態を確認し、クローズ時のエラーは
// 相手側が既に切断している可能性があるためログのみで握りつぶす。
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return
	}
	s.state = stateClosing

	// クローズフレームを送ってから下位コネクションを閉じる
	deadline := time.Now().Add(s.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.transport.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Printf("クローズフレームの送信に失敗: user=%s session=%s: %v", s.userID, s.id, err)
	}
	if err := s.transport.Close(); err != nil {
		log.Printf("コネクションのクローズに失敗: user=%s session=%s: %v", s.userID, s.id, err)
	}

	s.state = stateClosed
}

// markClosed はトランスポートを閉じずにセッションを閉塞状態にする。
// 送信失敗で除去されたセッション（相手側が既に切断済み）に対して使う。
func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
}
