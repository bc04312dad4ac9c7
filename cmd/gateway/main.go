// Keycloak管理ゲートウェイのエントリポイント。
// Keycloak Admin APIへのプロキシ、ロール名の解決、プロフィール画像の管理を担当する。
// 全操作は管理ロールを持つBearerトークンを要求する。
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/keygate/internal/config"
	"github.com/nao1215/keygate/internal/gateway"
)

func main() {
	// .envはローカル開発用。存在しなくてもエラーにしない。
	if err := godotenv.Load(); err == nil {
		log.Println(".envファイルを読み込みました")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	server, err := gateway.NewServer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("ゲートウェイサーバーの初期化に失敗: %v", err)
	}

	log.Printf("ゲートウェイサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("ゲートウェイサービスの起動に失敗: %v", err)
	}
}
