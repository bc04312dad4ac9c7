// Package config は管理ゲートウェイの起動時設定を提供する。
//
// 設定は環境変数からcaarlos0/envで読み込み、起動後は変更されない。
// Keycloakの接続先・レルム・認可設定とHTTPサーバーの設定を含む。
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config は管理ゲートウェイ全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8081"`
	// DBPath は画像Blobを保存するSQLiteデータベースのパス。
	DBPath string `env:"GATEWAY_DB_PATH" envDefault:"/data/keygate.db"`
	// AllowedOrigins はCORSで許可するオリジンの一覧（カンマ区切り）。
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Keycloak はKeycloak Admin APIの接続設定。
	Keycloak KeycloakConfig `envPrefix:"KEYCLOAK_"`
	// Auth は受信リクエストの認証・認可設定。
	Auth AuthConfig `envPrefix:"AUTH_"`
}

// KeycloakConfig はKeycloak Admin APIの接続設定。
type KeycloakConfig struct {
	// BaseURL はKeycloakのベースURL（例: "http://localhost:8080"）。
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	// Realm は操作対象のレルム名。
	Realm string `env:"REALM" envDefault:"master"`
}

// AuthConfig は受信リクエストの認証・認可設定。
type AuthConfig struct {
	// Issuer はOIDCのissuer URL（例: "http://localhost:8080/realms/master"）。
	// 空の場合はHS256共有秘密鍵による開発モードで動作する。
	Issuer string `env:"ISSUER"`
	// ClientID はaudience検証に使用するクライアントID。空なら検証を省略する。
	ClientID string `env:"CLIENT_ID"`
	// DevSecret は開発モードでのHS256署名用秘密鍵。
	DevSecret string `env:"DEV_SECRET" envDefault:"dev-secret-key"`
	// AdminRole はゲートウェイ操作に要求するレルムロール名。
	AdminRole string `env:"ADMIN_ROLE" envDefault:"ADMIN"`
}

// Load は環境変数から設定を読み込んで検証する。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	if c.Keycloak.BaseURL == "" {
		return errors.New("KEYCLOAK_BASE_URLが設定されていません")
	}
	if c.Keycloak.Realm == "" {
		return errors.New("KEYCLOAK_REALMが設定されていません")
	}
	if c.Auth.AdminRole == "" {
		return errors.New("AUTH_ADMIN_ROLEが設定されていません")
	}
	if c.Auth.Issuer == "" && c.Auth.DevSecret == "" {
		return errors.New("AUTH_ISSUERとAUTH_DEV_SECRETの少なくとも一方が必要です")
	}
	return nil
}
