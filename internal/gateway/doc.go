// Package gateway はKeycloak管理ゲートウェイの内部実装を提供する。
//
// 受信リクエストのBearerトークンをKeycloak Admin APIへ転送し、
// ユーザー・ロール・ロールマッピングの操作を代行する。あわせて
// プロフィール画像をローカルのBlobテーブルで管理し、ユーザー情報と
// 画像を合成したレスポンスを返す。ロール名しか持たない操作は、
// 変更前にロール一覧から内部IDへの解決を行う。
package gateway
