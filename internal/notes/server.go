package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/nao1215/notehub/internal/cache"
	"github.com/nao1215/notehub/internal/dispatch"
	"github.com/nao1215/notehub/internal/registry"
	notesdb "github.com/nao1215/notehub/internal/notes/db"
	"github.com/nao1215/notehub/pkg/middleware"
)

// defaultIdleTimeout はハートビート送信までのアイドル時間。
const defaultIdleTimeout = 30 * time.Second

// defaultListLimit はノート一覧取得のデフォルト件数。
const defaultListLimit = 20

// maxListLimit はノート一覧取得の最大件数。
const maxListLimit = 100

// Server はノートサービスのHTTP/WebSocketサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queries はクエリ実行オブジェクト。
	queries *notesdb.Queries
	// cache はノート一覧のルックアップキャッシュ。
	cache cache.Store
	// registry はライブセッションのレジストリ。
	registry *registry.Registry
	// dispatcher はイベント配信役。
	dispatcher *dispatch.Dispatcher
	// coordinator は書き込み経路の調整役。
	coordinator *Coordinator
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// idleTimeout はハートビート送信までのアイドル時間。
	idleTimeout time.Duration
	// upgrader はWebSocketアップグレーダー。
	upgrader websocket.Upgrader
}

// NewServer は新しいノートサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行い、
// REDIS_URLが設定されている場合はRedisキャッシュを使用する。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("NOTES_DB", "/data/notehub.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtSecret := getEnvOr("JWT_SECRET", "dev-secret-key")
	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	reg := registry.New()
	disp := dispatch.New(reg)
	queries := notesdb.New(sqlDB)

	s := &Server{
		router:      router,
		port:        port,
		db:          sqlDB,
		queries:     queries,
		cache:       newCacheStore(),
		registry:    reg,
		dispatcher:  disp,
		jwtSecret:   jwtSecret,
		idleTimeout: defaultIdleTimeout,
		upgrader: websocket.Upgrader{
			// 認証はハンドシェイク時のトークン検証で行うためオリジンは制限しない
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	s.coordinator = NewCoordinator(queries, s.cache, disp)
	s.setupRoutes()

	return s, nil
}

// newCacheStore は環境変数に応じたキャッシュストアを生成する。
// Redisへの接続に失敗した場合はログに記録し、インメモリキャッシュで継続する。
func newCacheStore() cache.Store {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return cache.NewMemory()
	}

	store, err := cache.NewRedis(redisURL, os.Getenv("REDIS_TOKEN"))
	if err != nil {
		log.Printf("Redisキャッシュの生成に失敗。インメモリキャッシュで継続します: %v", err)
		return cache.NewMemory()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		log.Printf("Redisへの疎通確認に失敗。インメモリキャッシュで継続します: %v", err)
		return cache.NewMemory()
	}

	log.Printf("Redisキャッシュに接続しました")
	return store
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 開発用トークン発行（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/dev-token", s.handleDevToken())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		notes := api.Group("/notes")
		{
			// ノート作成
			notes.POST("", s.handleCreate())
			// ノート一覧取得
			notes.GET("", s.handleList())
			// ノート削除
			notes.DELETE("/:id", s.handleDelete())
		}
	}

	// WebSocket接続（認証はクエリパラメータのトークンで行う）
	s.router.GET("/ws", s.handleWebSocket())

	// 疎通確認
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notehub"})
	})
}

// createNoteRequest はノート作成リクエストのJSON構造。
type createNoteRequest struct {
	// Title はノートのタイトル。
	Title string `json:"title" binding:"required"`
	// Content はノートの本文。
	Content string `json:"content"`
}

// handleCreate はノート作成を処理するハンドラを返す。
// 作成したノートを返し、note_addedイベントを全ライブセッションに配信する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createNoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		note, err := s.coordinator.AddNote(c.Request.Context(), userID, req.Title, req.Content, "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ノートの作成に失敗しました"})
			log.Printf("ノート作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, note)
	}
}

// handleList はノート一覧取得を処理するハンドラを返す。
// skip/limitクエリパラメータでページングする。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		skip := parseQueryInt(c, "skip", 0)
		limit := parseQueryInt(c, "limit", defaultListLimit)
		if limit > maxListLimit {
			limit = maxListLimit
		}

		notes, err := s.coordinator.ListNotes(c.Request.Context(), userID, skip, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ノート一覧の取得に失敗しました"})
			log.Printf("ノート一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, notes)
	}
}

// handleDelete はノート削除を処理するハンドラを返す。
// 削除に成功するとnote_deletedイベントを全ライブセッションに配信する。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		noteID := c.Param("id")
		if err := s.coordinator.DeleteNote(c.Request.Context(), userID, noteID, ""); err != nil {
			if errors.Is(err, ErrNoteNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ノートが見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ノートの削除に失敗しました"})
			log.Printf("ノート削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "ノートを削除しました"})
	}
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := uuid.New().String()
		token, err := middleware.GenerateJWT(s.jwtSecret, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": userID,
		})
	}
}

// parseQueryInt はクエリパラメータを非負整数として解析する。
// 未指定・解析失敗・負数の場合はデフォルト値を返す。
func parseQueryInt(c *gin.Context, name string, defaultValue int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return defaultValue
	}
	return v
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
