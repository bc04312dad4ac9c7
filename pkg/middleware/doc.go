// Package middleware は管理ゲートウェイで使用するGinミドルウェアを提供する。
//
// Bearerトークンの検証とレルムロールによるアクセス制御、リクエスト相関ID、
// パニックリカバリ、CORS設定を含む。検証済みトークンはコンテキスト経由で
// ハンドラに渡され、Keycloakへの転送に使用される。
package middleware
