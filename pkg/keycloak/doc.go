// Package keycloak はKeycloak Admin REST APIのクライアントを提供する。
//
// ユーザー・クライアントロール・レルムロール・ロールマッピングの各操作を、
// 呼び出し元から渡されたBearerトークンをそのまま転送して実行する。
// トークンの検証や発行は行わず、Keycloakの応答を加工せずに返す。
package keycloak
