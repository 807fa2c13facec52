package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/notehub/internal/cache"
	"github.com/nao1215/notehub/internal/dispatch"
	notesdb "github.com/nao1215/notehub/internal/notes/db"
	"github.com/nao1215/notehub/pkg/event"
)

// ErrNoteNotFound はノートが存在しないか、要求元ユーザーの所有ではないことを表す。
var ErrNoteNotFound = errors.New("ノートが見つかりません")

// defaultCacheTTL はノート一覧キャッシュのTTL。
const defaultCacheTTL = time.Hour

// Note はノートの外部表現。APIレスポンスとイベントのデータになる。
type Note struct {
	// ID はノートの一意識別子。
	ID string `json:"id"`
	// UserID はノートを所有するユーザーのID。
	UserID string `json:"user_id"`
	// Title はノートのタイトル。
	Title string `json:"title"`
	// Content はノートの本文。
	Content string `json:"content"`
	// CreatedAt は作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// Coordinator は書き込み経路の調整役。
// 永続化、キャッシュ無効化、イベント配信の順で実行し、
// 永続化後の失敗（キャッシュ・配信）は書き込みの失敗として扱わない。
type Coordinator struct {
	// queries はノートテーブルへのクエリ実行オブジェクト。
	queries *notesdb.Queries
	// cache はノート一覧のルックアップキャッシュ。
	cache cache.Store
	// dispatcher はライブセッションへのイベント配信役。
	dispatcher *dispatch.Dispatcher
	// cacheTTL はキャッシュエントリのTTL。
	cacheTTL time.Duration
}

// NewCoordinator は新しいコーディネータを生成する。
func NewCoordinator(queries *notesdb.Queries, store cache.Store, dispatcher *dispatch.Dispatcher) *Coordinator {
	return &Coordinator{
		queries:    queries,
		cache:      store,
		dispatcher: dispatcher,
		cacheTTL:   defaultCacheTTL,
	}
}

// AddNote はノートを永続化し、キャッシュを無効化し、note_addedイベントを配信する。
// originSessionIDが空でない場合、そのセッションにはイベントを配信しない。
// キャッシュ無効化・配信の失敗はログに記録するのみで、永続化済みの書き込みは成功として返す。
func (co *Coordinator) AddNote(ctx context.Context, userID, title, content, originSessionID string) (*Note, error) {
	noteID := uuid.New().String()
	createdAt := time.Now().UTC().Truncate(time.Second)

	if err := co.queries.CreateNote(ctx, notesdb.CreateNoteParams{
		ID:        noteID,
		UserID:    userID,
		Title:     title,
		Content:   content,
		CreatedAt: createdAt,
	}); err != nil {
		return nil, fmt.Errorf("ノートの作成に失敗: %w", err)
	}

	note := &Note{
		ID:        noteID,
		UserID:    userID,
		Title:     title,
		Content:   content,
		CreatedAt: createdAt.Format(time.RFC3339),
	}

	co.invalidate(ctx, userID)
	co.emit(userID, event.TypeNoteAdded, note, originSessionID)

	return note, nil
}

// DeleteNote はノートの所有を確認した上で削除し、キャッシュを無効化し、
// note_deletedイベントを配信する。
// ノートが存在しないか他ユーザーの所有の場合はErrNoteNotFoundを返し、
// ストレージ・キャッシュ・レジストリの状態は変更しない。
func (co *Coordinator) DeleteNote(ctx context.Context, userID, noteID, originSessionID string) error {
	n, err := co.queries.GetNoteByID(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoteNotFound
	}
	if err != nil {
		return fmt.Errorf("ノートの取得に失敗: %w", err)
	}
	if n.UserID != userID {
		return ErrNoteNotFound
	}

	removed, err := co.queries.DeleteNote(ctx, notesdb.DeleteNoteParams{
		ID:     noteID,
		UserID: userID,
	})
	if err != nil {
		return fmt.Errorf("ノートの削除に失敗: %w", err)
	}
	if removed == 0 {
		// 所有確認との間に別経路で削除された
		return ErrNoteNotFound
	}

	co.invalidate(ctx, userID)
	co.emit(userID, event.TypeNoteDeleted, event.NoteDeletedData{ID: noteID}, originSessionID)

	return nil
}

// ListNotes はキャッシュ優先でノート一覧を返す。
// キャッシュミスの場合はSQLiteからskip/limitで取得し、
// 結果が非空の場合のみTTL付きでキャッシュに格納する。
// 空の結果をキャッシュすると直後に追加されたノートが隠れるため、格納しない。
func (co *Coordinator) ListNotes(ctx context.Context, userID string, skip, limit int64) ([]Note, error) {
	key := cache.NotesKey(userID)

	cached, err := co.cache.Get(ctx, key)
	if err == nil {
		var notes []Note
		if err := json.Unmarshal(cached, &notes); err == nil {
			return notes, nil
		}
		// 壊れたエントリはSQLiteから取り直す
		log.Printf("キャッシュエントリのデシリアライズに失敗: user=%s: %v", userID, err)
	} else if !errors.Is(err, cache.ErrMiss) {
		// キャッシュ障害は読み取りを妨げない
		log.Printf("キャッシュの取得に失敗: user=%s: %v", userID, err)
	}

	rows, err := co.queries.ListNotesByUserID(ctx, notesdb.ListNotesByUserIDParams{
		UserID: userID,
		Limit:  limit,
		Offset: skip,
	})
	if err != nil {
		return nil, fmt.Errorf("ノート一覧の取得に失敗: %w", err)
	}

	notes := make([]Note, 0, len(rows))
	for _, n := range rows {
		notes = append(notes, Note{
			ID:        n.ID,
			UserID:    n.UserID,
			Title:     n.Title,
			Content:   n.Content,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	if len(notes) > 0 {
		if data, err := json.Marshal(notes); err != nil {
			log.Printf("ノート一覧のシリアライズに失敗: user=%s: %v", userID, err)
		} else if err := co.cache.Set(ctx, key, data, co.cacheTTL); err != nil {
			log.Printf("キャッシュの保存に失敗: user=%s: %v", userID, err)
		}
	}

	return notes, nil
}

// invalidate はユーザーのノート一覧キャッシュを削除する。
// 更新ではなく削除を使うのは、並行する読み取りとのレースでキャッシュが
// 古い内容に戻ることを防ぐため。失敗はログに記録するのみ。
func (co *Coordinator) invalidate(ctx context.Context, userID string) {
	if _, err := co.cache.Delete(ctx, cache.NotesKey(userID)); err != nil {
		log.Printf("キャッシュの無効化に失敗: user=%s: %v", userID, err)
	}
}

// emit はイベントを生成してユーザーの全セッションに配信する。
// 失敗はログに記録するのみで、呼び出し元にはエラーを返さない。
func (co *Coordinator) emit(userID string, eventType event.Type, data any, excludeSessionID string) {
	ev, err := event.New(eventType, data)
	if err != nil {
		log.Printf("イベントの生成に失敗: user=%s type=%s: %v", userID, eventType, err)
		return
	}
	co.dispatcher.SendToUser(userID, ev, excludeSessionID)
}
