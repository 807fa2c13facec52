// ノートサービスのエントリポイント。
// ノートのCRUDと、全ライブセッションへのリアルタイム同期を提供する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/notehub/internal/notes"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8001"
	}

	server, err := notes.NewServer(port)
	if err != nil {
		log.Fatalf("ノートサーバーの初期化に失敗: %v", err)
	}

	log.Printf("ノートサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("ノートサービスの起動に失敗: %v", err)
	}
}
