package notes

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nao1215/notehub/internal/registry"
	"github.com/nao1215/notehub/pkg/event"
	"github.com/nao1215/notehub/pkg/middleware"
)

// handleWebSocket はWebSocket接続を処理するハンドラを返す。
// クエリパラメータのuser_idとtokenで認証し、検証に成功した接続のみ
// レジストリに登録する。認証失敗時はポリシー違反コードで閉じ、
// レジストリ・ディスパッチャの状態は一切作らない。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocketアップグレードに失敗: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		userID := c.Query("user_id")
		token := c.Query("token")
		if userID == "" || token == "" {
			s.rejectConnection(conn, "user_idとtokenが必要です")
			return
		}

		verifiedID, err := middleware.VerifyToken(s.jwtSecret, token)
		if err != nil {
			s.rejectConnection(conn, err.Error())
			return
		}
		if verifiedID != userID {
			s.rejectConnection(conn, "トークンとuser_idが一致しません")
			return
		}

		sess := s.registry.Connect(conn, userID)
		// 読み取りループの終了経路からの切断。外部経路（配信失敗等）による
		// 切断が先行していても冪等に処理される。
		defer s.registry.Disconnect(userID, sess.ID(), true)

		s.serveSession(conn, sess)
	}
}

// rejectConnection は認証に失敗した接続をポリシー違反コードで閉じる。
func (s *Server) rejectConnection(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		log.Printf("拒否クローズフレームの送信に失敗: %v", err)
	}
}

// serveSession は1セッション分の読み取りループを実行する。
// アイドル監視は別ゴルーチン（heartbeatLoop）が行い、
// 受信があるたびにactivityチャネル経由でタイマーをリセットする。
// 読み取りエラーは正常な終了遷移として扱い、トランスポートを閉じずに
// レジストリから自セッションを除去して戻る。
func (s *Server) serveSession(conn *websocket.Conn, sess *registry.Session) {
	activity := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)

	go s.heartbeatLoop(conn, sess, activity, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			// 相手側の切断またはトランスポート障害。このセッションだけを除去する。
			s.registry.Disconnect(sess.UserID(), sess.ID(), false)
			return
		}

		select {
		case activity <- struct{}{}:
		default:
		}

		if isPing(msg) {
			pong, err := event.New(event.TypePong, nil)
			if err != nil {
				log.Printf("pongイベントの生成に失敗: %v", err)
				continue
			}
			if err := sess.Send(pong); err != nil {
				log.Printf("pongの送信に失敗: user=%s session=%s: %v", sess.UserID(), sess.ID(), err)
				s.registry.Disconnect(sess.UserID(), sess.ID(), false)
				return
			}
		}
		// その他の受信メッセージは無視する
	}
}

// heartbeatLoop はアイドル状態のセッションへハートビートを送信する。
// idleTimeoutの間受信がなければheartbeatイベントを1回送信し、タイマーを仕切り直す。
// 送信に失敗した場合は半開コネクションとみなしてセッションを除去し、
// 読み取りループのブロックを解除するために下位コネクションを閉じる。
func (s *Server) heartbeatLoop(closer io.Closer, sess *registry.Session, activity <-chan struct{}, done <-chan struct{}) {
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idleTimeout)
		case <-timer.C:
			hb, err := event.New(event.TypeHeartbeat, nil)
			if err != nil {
				log.Printf("ハートビートイベントの生成に失敗: %v", err)
				timer.Reset(s.idleTimeout)
				continue
			}
			if err := sess.Send(hb); err != nil {
				log.Printf("ハートビートの送信に失敗: user=%s session=%s: %v", sess.UserID(), sess.ID(), err)
				s.registry.Disconnect(sess.UserID(), sess.ID(), false)
				if err := closer.Close(); err != nil {
					log.Printf("コネクションのクローズに失敗: %v", err)
				}
				return
			}
			timer.Reset(s.idleTimeout)
		}
	}
}

// isPing は受信メッセージがクライアントからのpingかを判定する。
// プレーンテキストの "ping" とJSON形式の {"type":"ping"} の両方を受け付ける。
func isPing(msg []byte) bool {
	if string(bytes.TrimSpace(msg)) == "ping" {
		return true
	}
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &m); err == nil && m.Type == "ping" {
		return true
	}
	return false
}
