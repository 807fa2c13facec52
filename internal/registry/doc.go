// Package registry はアカウントごとのライブWebSocketセッションを管理する。
// 同一アカウントの複数セッション（デスクトップとブラウザタブ等）を同時に保持し、
// 切断は任意の経路から複数回呼び出されても安全になっている。
package registry
