package middleware

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RealmAccess はKeycloakトークンのrealm_accessクレーム。
type RealmAccess struct {
	// Roles はユーザーに割り当てられたレルムロール名の一覧。
	Roles []string `json:"roles"`
}

// TokenClaims は検証済みトークンから取り出すクレーム。
type TokenClaims struct {
	// Subject はトークンのsubクレーム（KeycloakのユーザーID）。
	Subject string `json:"sub"`
	// PreferredUsername はKeycloakのユーザー名。
	PreferredUsername string `json:"preferred_username"`
	// RealmAccess はレルムロールの割り当て情報。
	RealmAccess RealmAccess `json:"realm_access"`
}

// TokenVerifier はBearerトークンを検証しクレームを取り出すインターフェース。
// 本番ではOIDCVerifier、開発・テストではHSVerifierを使用する。
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*TokenClaims, error)
}

// OIDCVerifier はKeycloakのOIDCディスカバリとJWKSを使ってトークンを検証する。
type OIDCVerifier struct {
	// verifier はgo-oidcのIDトークン検証器。
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier はissuer（レルムのissuer URL）からOIDC検証器を生成する。
// 例: http://localhost:8080/realms/myrealm
// clientIDが空の場合はaudienceの検証を省略する。
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("OIDCプロバイダの初期化に失敗: %w", err)
	}

	cfg := &oidc.Config{ClientID: clientID}
	if clientID == "" {
		cfg.SkipClientIDCheck = true
	}

	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

// Verify はトークンを検証しクレームを返す。
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*TokenClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}

	var claims TokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("クレームの取り出しに失敗: %w", err)
	}
	return &claims, nil
}

// hsClaims はHS256検証用のJWTクレーム構造。
type hsClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername はKeycloakのユーザー名。
	PreferredUsername string `json:"preferred_username"`
	// RealmAccess はレルムロールの割り当て情報。
	RealmAccess RealmAccess `json:"realm_access"`
}

// HSVerifier は共有秘密鍵によるHS256検証器。
// Keycloakを立てずに動かす開発環境とテストでのみ使用する。
type HSVerifier struct {
	// secret はHS256署名用の秘密鍵。
	secret string
}

// NewHSVerifier は新しいHS256検証器を生成する。
func NewHSVerifier(secret string) *HSVerifier {
	return &HSVerifier{secret: secret}
}

// Verify はトークンを検証しクレームを返す。
func (v *HSVerifier) Verify(_ context.Context, rawToken string) (*TokenClaims, error) {
	claims := &hsClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(_ *jwt.Token) (any, error) {
		return []byte(v.secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}

	return &TokenClaims{
		Subject:           claims.Subject,
		PreferredUsername: claims.PreferredUsername,
		RealmAccess:       claims.RealmAccess,
	}, nil
}

// GenerateToken は開発・テスト用にKeycloak形式のHS256トークンを発行する。
// realmRolesはrealm_access.rolesクレームに設定される。
func GenerateToken(secret, subject string, realmRoles []string) (string, error) {
	claims := hsClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "keygate-dev",
		},
		RealmAccess: RealmAccess{Roles: realmRoles},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// contextKeyToken は検証済みのBearerトークンをGinコンテキストに格納するキー。
const contextKeyToken = "bearer_token"

// contextKeySubject は認証済みユーザーのsubをGinコンテキストに格納するキー。
const contextKeySubject = "token_subject"

// RequireRealmRole はBearerトークンを検証し、指定のレルムロールを要求する
// Ginミドルウェアを返す。検証に成功した場合、"Bearer "プレフィックスを
// 一度だけ除去した生トークンをコンテキストに格納する。
// 後続のハンドラはBearerTokenで取り出してKeycloakへ転送する。
func RequireRealmRole(verifier TokenVerifier, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		rawToken, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), rawToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		if !slices.Contains(claims.RealmAccess.Roles, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": fmt.Sprintf("ロール %s が必要です", role),
			})
			return
		}

		c.Set(contextKeyToken, rawToken)
		c.Set(contextKeySubject, claims.Subject)
		c.Next()
	}
}

// BearerToken はGinコンテキストから検証済みの生トークンを取得する。
// RequireRealmRoleミドルウェアが事前に適用されている必要がある。
func BearerToken(c *gin.Context) string {
	token, _ := c.Get(contextKeyToken)
	if t, ok := token.(string); ok {
		return t
	}
	return ""
}

// TokenSubject はGinコンテキストから認証済みユーザーのsubを取得する。
func TokenSubject(c *gin.Context) string {
	subject, _ := c.Get(contextKeySubject)
	if s, ok := subject.(string); ok {
		return s
	}
	return ""
}
