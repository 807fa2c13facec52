// Package event はセッションへプッシュする変更イベントの型を提供する。
// イベントは永続化されず、Notification Dispatcherが一度だけ配信する。
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeNoteAdded はノートが追加されたことを表す。
	TypeNoteAdded Type = "note_added"
	// TypeNoteDeleted はノートが削除されたことを表す。
	TypeNoteDeleted Type = "note_deleted"
	// TypeHeartbeat はアイドルセッションへの生存確認を表す。
	TypeHeartbeat Type = "heartbeat"
	// TypePong はクライアントからのpingに対する応答を表す。
	TypePong Type = "pong"
)

// Event はセッションに配信される変更イベントを表す。
// ワイヤ上では {"type": ..., "data": ..., "timestamp": ...} のJSONになる。
type Event struct {
	// Type はイベントの種類。
	Type Type `json:"type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Timestamp はイベント生成日時（RFC3339形式・UTC）。
	Timestamp string `json:"timestamp"`
}

// NoteDeletedData はnote_deletedイベントのデータ。
type NoteDeletedData struct {
	// ID は削除されたノートの一意識別子。
	ID string `json:"id"`
}

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
// dataがnilの場合は空オブジェクトを格納する。
func New(eventType Type, data any) (*Event, error) {
	if data == nil {
		data = struct{}{}
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		Type:      eventType,
		Data:      jsonData,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
