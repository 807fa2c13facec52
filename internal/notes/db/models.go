package db

import "time"

// Note はnotesテーブルの1行を表す。
type Note struct {
	// ID はノートの一意識別子。
	ID string
	// UserID はノートを所有するユーザーのID。
	UserID string
	// Title はノートのタイトル。
	Title string
	// Content はノートの本文。
	Content string
	// CreatedAt は作成日時。
	CreatedAt time.Time
}
