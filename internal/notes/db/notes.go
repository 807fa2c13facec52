package db

import (
	"context"
	"time"
)

const createNote = `
INSERT INTO notes (id, user_id, title, content, created_at)
VALUES (?, ?, ?, ?, ?)
`

// CreateNoteParams はCreateNoteのパラメータ。
type CreateNoteParams struct {
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

// CreateNote はノートを1件挿入する。
func (q *Queries) CreateNote(ctx context.Context, arg CreateNoteParams) error {
	_, err := q.db.ExecContext(ctx, createNote,
		arg.ID,
		arg.UserID,
		arg.Title,
		arg.Content,
		arg.CreatedAt,
	)
	return err
}

const getNoteByID = `
SELECT id, user_id, title, content, created_at
FROM notes
WHERE id = ?
`

// GetNoteByID は指定IDのノートを1件取得する。
// 存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetNoteByID(ctx context.Context, id string) (Note, error) {
	row := q.db.QueryRowContext(ctx, getNoteByID, id)
	var n Note
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAt)
	return n, err
}

const listNotesByUserID = `
SELECT id, user_id, title, content, created_at
FROM notes
WHERE user_id = ?
ORDER BY created_at DESC, id
LIMIT ? OFFSET ?
`

// ListNotesByUserIDParams はListNotesByUserIDのパラメータ。
type ListNotesByUserIDParams struct {
	// UserID は取得対象のユーザーID。
	UserID string
	// Limit は最大取得件数。
	Limit int64
	// Offset は読み飛ばす件数。
	Offset int64
}

// ListNotesByUserID はユーザーのノートを作成日時の降順で取得する。
func (q *Queries) ListNotesByUserID(ctx context.Context, arg ListNotesByUserIDParams) ([]Note, error) {
	rows, err := q.db.QueryContext(ctx, listNotesByUserID, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

const deleteNote = `
DELETE FROM notes
WHERE id = ? AND user_id = ?
`

// DeleteNoteParams はDeleteNoteのパラメータ。
type DeleteNoteParams struct {
	// ID は削除対象のノートID。
	ID string
	// UserID はノートを所有するユーザーのID。
	UserID string
}

// DeleteNote は指定ユーザーが所有するノートを削除し、削除件数を返す。
func (q *Queries) DeleteNote(ctx context.Context, arg DeleteNoteParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteNote, arg.ID, arg.UserID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countNotesByUserID = `
SELECT COUNT(*)
FROM notes
WHERE user_id = ?
`

// CountNotesByUserID はユーザーのノート数を返す。
func (q *Queries) CountNotesByUserID(ctx context.Context, userID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countNotesByUserID, userID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
