package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/keygate/internal/config"
	"github.com/nao1215/keygate/pkg/imaging"
	"github.com/nao1215/keygate/pkg/keycloak"
	"github.com/nao1215/keygate/pkg/middleware"
)

// maxUploadSize はアップロード可能な画像ファイルの最大サイズ（10MB）。
// テスト時に差し替え可能にするためvarとして宣言する。
var maxUploadSize int64 = 10 << 20

// passportSize はダウンロード時に適用する画像の幅・高さ（ピクセル）。
const passportSize = 150

// Server はKeycloak管理ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store は画像Blobテーブルへのクエリ実行オブジェクト。
	store *imageStore
	// kc はKeycloak Admin APIクライアント。
	kc *keycloak.Client
	// verifier は受信Bearerトークンの検証器。
	verifier middleware.TokenVerifier
	// adminRole はゲートウェイ操作に要求するレルムロール名。
	adminRole string
}

// NewServer は新しいゲートウェイサーバーを生成する。
// SQLiteデータベースの初期化とトークン検証器の構築を行う。
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	var verifier middleware.TokenVerifier
	if cfg.Auth.Issuer != "" {
		verifier, err = middleware.NewOIDCVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID)
		if err != nil {
			return nil, fmt.Errorf("トークン検証器の初期化に失敗: %w", err)
		}
	} else {
		log.Println("AUTH_ISSUER未設定のため開発用HS256検証器を使用します")
		verifier = middleware.NewHSVerifier(cfg.Auth.DevSecret)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.MaxMultipartMemory = maxUploadSize

	s := &Server{
		router:    router,
		port:      cfg.Port,
		db:        sqlDB,
		store:     newImageStore(sqlDB),
		kc:        keycloak.New(cfg.Keycloak.BaseURL, cfg.Keycloak.Realm),
		verifier:  verifier,
		adminRole: cfg.Auth.AdminRole,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
// /keycloak配下の全操作は管理ロールを持つトークンを要求する。
func (s *Server) setupRoutes() {
	kc := s.router.Group("/keycloak")
	kc.Use(middleware.RequireRealmRole(s.verifier, s.adminRole))
	{
		// ユーザー管理
		kc.POST("/user", s.handleCreateUser())
		kc.GET("/users", s.handleListUsers())
		kc.PUT("/user/:userId", s.handleUpdateUser())
		kc.DELETE("/user/:userId", s.handleDeleteUser())
		// ユーザー情報と画像の合成取得
		kc.GET("/users/:userId", s.handleGetUserDetails())

		// クライアントロール管理
		clients := kc.Group("/clients/:clientUuid")
		{
			clients.POST("/roles", s.handleCreateClientRole())
			clients.GET("/roles", s.handleListClientRoles())
			clients.PUT("/roles/:roleName", s.handleUpdateClientRole())
			clients.DELETE("/roles/:roleName", s.handleDeleteClientRole())
		}

		// レルムロール管理
		kc.POST("/roles", s.handleCreateRealmRole())
		kc.GET("/roles", s.handleListRealmRoles())
		kc.PUT("/roles/:roleName", s.handleUpdateRealmRole())
		kc.DELETE("/roles/:roleName", s.handleDeleteRealmRole())

		// ロールマッピング管理
		mappings := kc.Group("/users/:userId/role-mappings")
		{
			mappings.POST("/clients/:clientUuid", s.handleAssignClientRoles())
			mappings.DELETE("/clients/:clientUuid/roles/:roleName", s.handleRemoveClientRole())
			mappings.POST("/realm", s.handleAssignRealmRoles())
			mappings.DELETE("/realm/:roleName", s.handleRemoveRealmRole())
		}

		// プロフィール画像
		kc.POST("/images/:userId", s.handleUploadImage())
		kc.GET("/images/:fileName", s.handleDownloadImage())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "keygate"})
	})
}

// respondKeycloakError はKeycloak呼び出しのエラーをHTTPレスポンスに写像する。
// Keycloakが返したステータスとボディはそのまま伝播させ、リトライや
// エラーの握り潰しは行わない。
func respondKeycloakError(c *gin.Context, err error) {
	var apiErr *keycloak.APIError
	if errors.As(err, &apiErr) {
		if len(apiErr.Body) > 0 {
			c.Data(apiErr.Status, "application/json", apiErr.Body)
		} else {
			c.Status(apiErr.Status)
		}
		return
	}

	var notFound *keycloak.RoleNotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}

	log.Printf("Keycloakとの通信に失敗: %v", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "Keycloakとの通信に失敗しました"})
}

// bindJSONMap はリクエストボディを動的なJSONオブジェクトとして読み取る。
// ペイロードの形式は呼び出し元が定義するため、スキーマの検証は行わない。
func bindJSONMap(c *gin.Context) (map[string]any, bool) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
		return nil, false
	}
	return payload, true
}

// bindJSONMapList はリクエストボディをJSONオブジェクトの配列として読み取る。
// ロールの一括割り当てで使用する。
func bindJSONMapList(c *gin.Context) ([]map[string]any, bool) {
	var payload []map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
		return nil, false
	}
	return payload, true
}

// handleCreateUser はユーザー作成を処理するハンドラを返す。
func (s *Server) handleCreateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := bindJSONMap(c)
		if !ok {
			return
		}

		if err := s.kc.CreateUser(c.Request.Context(), middleware.BearerToken(c), payload); err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User created successfully."})
	}
}

// handleListUsers はユーザー一覧取得を処理するハンドラを返す。
// Keycloakのステータスコードとボディをそのまま返す。
func (s *Server) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, body, err := s.kc.ListUsers(c.Request.Context(), middleware.BearerToken(c))
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.Data(status, "application/json", body)
	}
}

// handleUpdateUser はユーザー更新を処理するハンドラを返す。
func (s *Server) handleUpdateUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		payload, ok := bindJSONMap(c)
		if !ok {
			return
		}

		if err := s.kc.UpdateUser(c.Request.Context(), middleware.BearerToken(c), userID, payload); err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("User with ID %s updated successfully.", userID)})
	}
}

// handleDeleteUser はユーザー削除を処理するハンドラを返す。
// 対応する画像レコードの削除は行わない（レコードはユーザーより長生きし得る）。
func (s *Server) handleDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		if err := s.kc.DeleteUser(c.Request.Context(), middleware.BearerToken(c), userID); err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("User with ID %s deleted successfully.", userID)})
	}
}

// handleCreateClientRole はクライアントロール作成を処理するハンドラを返す。
// ペイロードにはコンテナとなるクライアントUUIDを補完する。
func (s *Server) handleCreateClientRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientUUID := c.Param("clientUuid")
		payload, ok := bindJSONMap(c)
		if !ok {
			return
		}
		payload["containerId"] = clientUUID

		if err := s.kc.CreateClientRole(c.Request.Context(), middleware.BearerToken(c), clientUUID, payload); err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Role created successfully."})
	}
}

// handleListClientRoles はクライアントロール一覧取得を処理するハンドラを返す。
func (s *Server) handleListClientRoles() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, body, err := s.kc.ListClientRoles(c.Request.Context(), middleware.BearerToken(c), c.Param("clientUuid"))
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.Data(status, "application/json", body)
	}
}

// handleUpdateClientRole はクライアントロール更新を処理するハンドラを返す。
func (s *Server) handleUpdateClientRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := bindJSONMap(c)
		if !ok {
			return
		}

		err := s.kc.UpdateClientRole(c.Request.Context(), middleware.BearerToken(c),
			c.Param("clientUuid"), c.Param("roleName"), payload)
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Client role updated successfully."})
	}
}

// handleDeleteClientRole はクライアントロール削除を処理するハンドラを返す。
func (s *Server) handleDeleteClientRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.kc.DeleteClientRole(c.Request.Context(), middleware.BearerToken(c),
			c.Param("clientUuid"), c.Param("roleName"))
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Client role deleted successfully."})
	}
}

// handleCreateRealmRole はレルムロール作成を処理するハンドラを返す。
func (s *Server) handleCreateRealmRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := bindJSONMap(c)
		if !ok {
			return
		}

		if err := s.kc.CreateRealmRole(c.Request.Context(), middleware.BearerToken(c), payload); err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Realm role created successfully."})
	}
}

// handleListRealmRoles はレルムロール一覧取得を処理するハンドラを返す。
func (s *Server) handleListRealmRoles() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, body, err := s.kc.ListRealmRoles(c.Request.Context(), middleware.BearerToken(c))
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.Data(status, "application/json", body)
	}
}

// handleUpdateRealmRole はレルムロール更新を処理するハンドラを返す。
func (s *Server) handleUpdateRealmRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := bindJSONMap(c)
		if !ok {
			return
		}

		err := s.kc.UpdateRealmRole(c.Request.Context(), middleware.BearerToken(c), c.Param("roleName"), payload)
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Realm role updated successfully."})
	}
}

// handleDeleteRealmRole はレルムロール削除を処理するハンドラを返す。
func (s *Server) handleDeleteRealmRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.kc.DeleteRealmRole(c.Request.Context(), middleware.BearerToken(c), c.Param("roleName"))
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Realm role deleted successfully."})
	}
}

// handleAssignClientRoles はユーザーへのクライアントロール割り当てを処理するハンドラを返す。
// 呼び出し元は {id, name} を含む完全なロール表現の配列を渡すこと（名前解決は行わない）。
func (s *Server) handleAssignClientRoles() gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, ok := bindJSONMapList(c)
		if !ok {
			return
		}

		err := s.kc.AssignClientRoles(c.Request.Context(), middleware.BearerToken(c),
			c.Param("userId"), c.Param("clientUuid"), roles)
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Client role assigned to user successfully."})
	}
}

// handleRemoveClientRole はユーザーからのクライアントロール解除を処理するハンドラを返す。
// ロール名しか受け取らないため、解除前にロール一覧から内部IDへの解決を行う。
func (s *Server) handleRemoveClientRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := middleware.BearerToken(c)
		userID := c.Param("userId")
		clientUUID := c.Param("clientUuid")
		roleName := c.Param("roleName")

		role, err := s.kc.ResolveClientRole(c.Request.Context(), token, clientUUID, roleName)
		if err != nil {
			respondKeycloakError(c, err)
			return
		}

		err = s.kc.RemoveClientRoles(c.Request.Context(), token, userID, clientUUID, []map[string]any{role})
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Client role removed from user successfully."})
	}
}

// handleAssignRealmRoles はユーザーへのレルムロール割り当てを処理するハンドラを返す。
func (s *Server) handleAssignRealmRoles() gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, ok := bindJSONMapList(c)
		if !ok {
			return
		}

		err := s.kc.AssignRealmRoles(c.Request.Context(), middleware.BearerToken(c), c.Param("userId"), roles)
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Realm roles assigned successfully."})
	}
}

// handleRemoveRealmRole はユーザーからのレルムロール解除を処理するハンドラを返す。
// 解除前にレルムロール一覧から内部IDへの解決を行い、
// /role-mappings/realm パスに対して解除を発行する。
func (s *Server) handleRemoveRealmRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := middleware.BearerToken(c)
		userID := c.Param("userId")
		roleName := c.Param("roleName")

		role, err := s.kc.ResolveRealmRole(c.Request.Context(), token, roleName)
		if err != nil {
			respondKeycloakError(c, err)
			return
		}

		err = s.kc.RemoveRealmRoles(c.Request.Context(), token, userID, []map[string]any{role})
		if err != nil {
			respondKeycloakError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Assigned realm role deleted successfully."})
	}
}

// handleUploadImage はプロフィール画像のアップロードを処理するハンドラを返す。
// マルチパートフォームの "image" フィールドからファイルを受け取り、
// zlib圧縮してユーザーIDを主キーとするレコードを挿入する。
// 既にレコードが存在するユーザーへの再アップロードは409で拒否する。
func (s *Server) handleUploadImage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ファイルの取得に失敗しました: %v", err)})
			return
		}
		if file.Size > maxUploadSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ファイルサイズが上限を超えています（最大%dMB）", maxUploadSize/(1<<20))})
			return
		}

		// 1ユーザーにつき画像は1件のみ。上書きはしない。
		if _, err := s.store.GetImageByID(c.Request.Context(), userID); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Image already exists for this user."})
			return
		} else if !errors.Is(err, ErrImageNotFound) {
			log.Printf("画像レコードの存在確認に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "画像レコードの確認に失敗しました"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルのオープンに失敗しました"})
			return
		}
		defer src.Close()

		raw, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルの読み取りに失敗しました"})
			return
		}

		compressed, err := imaging.Compress(raw)
		if err != nil {
			log.Printf("画像の圧縮に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "画像の圧縮に失敗しました"})
			return
		}

		rec := ImageRecord{
			ID:   userID,
			Name: file.Filename,
			Type: file.Header.Get("Content-Type"),
			Data: compressed,
		}
		if err := s.store.CreateImage(c.Request.Context(), rec); err != nil {
			if errors.Is(err, ErrImageExists) {
				c.JSON(http.StatusConflict, gin.H{"error": "Image already exists for this user."})
				return
			}
			log.Printf("画像レコードの挿入に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "画像の保存に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Image uploaded successfully for userId: %s", userID)})
	}
}

// handleDownloadImage はプロフィール画像のダウンロードを処理するハンドラを返す。
// ファイル名でレコードを検索し、伸長・150x150へのリサイズ・形式判定を行って
// 画像バイト列を返す。
func (s *Server) handleDownloadImage() gin.HandlerFunc {
	return func(c *gin.Context) {
		fileName := c.Param("fileName")

		rec, err := s.store.GetImageByName(c.Request.Context(), fileName)
		if errors.Is(err, ErrImageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Image not found: %s", fileName)})
			return
		}
		if err != nil {
			log.Printf("画像レコードの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "画像の取得に失敗しました"})
			return
		}

		data, mimeType, err := renderImage(rec)
		if err != nil {
			log.Printf("画像の変換に失敗: name=%s, error=%v", fileName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "画像の変換に失敗しました"})
			return
		}

		c.Data(http.StatusOK, mimeType, data)
	}
}

// handleGetUserDetails はユーザー情報と画像を合成して返すハンドラを返す。
// ユーザーがKeycloakに存在しない場合はBlobストアに触れずに失敗する。
// 画像が無い場合は致命的エラーとせず、imageキーを省略して返す。
func (s *Server) handleGetUserDetails() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		user, err := s.kc.GetUser(c.Request.Context(), middleware.BearerToken(c), userID)
		if err != nil {
			respondKeycloakError(c, err)
			return
		}

		rec, err := s.store.GetImageByID(c.Request.Context(), userID)
		if err != nil {
			// 画像の欠落は合成結果から省くだけで、エラーにはしない。
			if !errors.Is(err, ErrImageNotFound) {
				log.Printf("画像レコードの取得に失敗: userID=%s, error=%v", userID, err)
			}
			c.JSON(http.StatusOK, user)
			return
		}

		data, _, err := renderImage(rec)
		if err != nil {
			log.Printf("画像の変換に失敗: userID=%s, error=%v", userID, err)
			c.JSON(http.StatusOK, user)
			return
		}

		// []byteはJSONエンコードでBase64文字列になる。
		user["image"] = data
		c.JSON(http.StatusOK, user)
	}
}

// renderImage は保存済みレコードを配信用の画像バイト列に変換する。
// 伸長、150x150へのリサイズ、MIMEタイプの判定を行う。
func renderImage(rec ImageRecord) ([]byte, string, error) {
	raw, err := imaging.Decompress(rec.Data)
	if err != nil {
		return nil, "", err
	}

	resized, err := imaging.Resize(raw, passportSize, passportSize)
	if err != nil {
		return nil, "", err
	}

	mimeType, err := imaging.SniffType(resized)
	if err != nil {
		return nil, "", err
	}
	return resized, mimeType, nil
}
