// notectl はnotehub APIの開発用CLIクライアント。
// トークン発行、ノートのCRUD、WebSocketでのライブ監視を行う。
//
// 使い方:
//
//	notectl token
//	notectl add <title> [content]
//	notectl list [skip] [limit]
//	notectl delete <id>
//	notectl watch
//
// 接続先はNOTEHUB_URL（デフォルト http://localhost:8001）、
// 認証はNOTEHUB_TOKENとNOTEHUB_USER_IDで指定する。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nao1215/notehub/pkg/httpclient"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := getEnvOr("NOTEHUB_URL", "http://localhost:8001")
	client := httpclient.New(baseURL)
	ctx := httpclient.WithToken(context.Background(), os.Getenv("NOTEHUB_TOKEN"))

	var err error
	switch os.Args[1] {
	case "token":
		err = cmdToken(ctx, client)
	case "add":
		err = cmdAdd(ctx, client, os.Args[2:])
	case "list":
		err = cmdList(ctx, client, os.Args[2:])
	case "delete":
		err = cmdDelete(ctx, client, os.Args[2:])
	case "watch":
		err = cmdWatch(baseURL)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("%s に失敗: %v", os.Args[1], err)
	}
}

// usage は使い方を表示する。
func usage() {
	fmt.Fprintln(os.Stderr, "usage: notectl <token|add|list|delete|watch> [args]")
}

// cmdToken は開発用トークンを発行して表示する。
func cmdToken(ctx context.Context, client *httpclient.Client) error {
	var result map[string]any
	if err := client.PostJSON(ctx, "/auth/dev-token", nil, &result); err != nil {
		return err
	}
	fmt.Printf("export NOTEHUB_TOKEN=%v\n", result["token"])
	fmt.Printf("export NOTEHUB_USER_ID=%v\n", result["user_id"])
	return nil
}

// cmdAdd はノートを作成する。
func cmdAdd(ctx context.Context, client *httpclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("タイトルが必要です")
	}
	body := map[string]string{"title": args[0]}
	if len(args) > 1 {
		body["content"] = strings.Join(args[1:], " ")
	}

	var result map[string]any
	if err := client.PostJSON(ctx, "/api/v1/notes", body, &result); err != nil {
		return err
	}
	return printJSON(result)
}

// cmdList はノート一覧を取得して表示する。
func cmdList(ctx context.Context, client *httpclient.Client, args []string) error {
	path := "/api/v1/notes"
	query := url.Values{}
	if len(args) > 0 {
		query.Set("skip", args[0])
	}
	if len(args) > 1 {
		query.Set("limit", args[1])
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var result []map[string]any
	if err := client.GetJSON(ctx, path, &result); err != nil {
		return err
	}
	return printJSON(result)
}

// cmdDelete はノートを削除する。
func cmdDelete(ctx context.Context, client *httpclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("ノートIDが必要です")
	}

	var result map[string]any
	if err := client.DeleteJSON(ctx, "/api/v1/notes/"+args[0], &result); err != nil {
		return err
	}
	return printJSON(result)
}

// cmdWatch はWebSocketに接続して受信イベントを表示し続ける。
// 30秒ごとにpingを送信してコネクションを維持する。
func cmdWatch(baseURL string) error {
	token := os.Getenv("NOTEHUB_TOKEN")
	userID := os.Getenv("NOTEHUB_USER_ID")
	if token == "" || userID == "" {
		return fmt.Errorf("NOTEHUB_TOKENとNOTEHUB_USER_IDが必要です")
	}

	wsURL, err := toWebSocketURL(baseURL, userID, token)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("WebSocket接続に失敗: %w", err)
	}
	defer conn.Close()
	log.Printf("接続しました: %s", wsURL)

	// Ctrl-Cで正常クローズする
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	// 定期ping送信
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for range t.C {
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("切断されました: %v", err)
			return nil
		}
		fmt.Println(string(msg))
	}
}

// toWebSocketURL はHTTPのベースURLからWebSocket接続用URLを組み立てる。
func toWebSocketURL(baseURL, userID, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("URLの解析に失敗: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	query := url.Values{}
	query.Set("user_id", userID)
	query.Set("token", token)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// printJSON は結果を整形して表示する。
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("結果のシリアライズに失敗: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
