// Package notes はノートサービスのHTTP/WebSocketサーバーを提供する。
// 書き込みはSQLiteへの永続化、キャッシュの無効化、
// ライブセッションへのイベント配信の順で調整される。
package notes
