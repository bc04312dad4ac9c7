// Package imaging はプロフィール画像の変換処理を提供する。
//
// アップロード時の可逆圧縮、ダウンロード時の伸長・リサイズ、
// 画像形式の判定など、Blobストアに保存する画像の正規化を担当する。
package imaging
