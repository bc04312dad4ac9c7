package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrImageExists は対象ユーザーの画像レコードが既に存在する場合のエラー。
// 画像の差し替えエンドポイントは定義されておらず、再アップロードは拒否する。
var ErrImageExists = errors.New("画像レコードが既に存在します")

// ErrImageNotFound は画像レコードが存在しない場合のエラー。
var ErrImageNotFound = errors.New("画像レコードが存在しません")

// ImageRecord は画像Blobテーブルの1レコード。
type ImageRecord struct {
	// ID はKeycloakのユーザーID（主キー）。
	ID string
	// Name はアップロード時の元ファイル名。
	Name string
	// Type はアップロード時のMIMEタイプ。
	Type string
	// Data はzlib圧縮済みの画像バイト列。
	Data []byte
}

// imageStore は画像Blobテーブルへのクエリ実行オブジェクト。
type imageStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// newImageStore は新しいimageStoreを生成する。
func newImageStore(db *sql.DB) *imageStore {
	return &imageStore{db: db}
}

// CreateImage は新しい画像レコードを挿入する。
// 同一ユーザーIDのレコードが既に存在する場合はErrImageExistsを返す。
// 同時アップロードは主キー制約で弾かれ、同じくErrImageExistsとなる。
func (s *imageStore) CreateImage(ctx context.Context, rec ImageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_data (id, name, type, image_data) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Type, rec.Data,
	)
	if err != nil {
		// modernc.org/sqliteは一意制約違反を専用の型で公開しないため文字列で判定する。
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrImageExists
		}
		return fmt.Errorf("画像レコードの挿入に失敗: %w", err)
	}
	return nil
}

// GetImageByID はユーザーIDで画像レコードを取得する。
// レコードが無い場合はErrImageNotFoundを返す。
func (s *imageStore) GetImageByID(ctx context.Context, id string) (ImageRecord, error) {
	return s.getImage(ctx, `SELECT id, name, type, image_data FROM image_data WHERE id = ?`, id)
}

// GetImageByName はファイル名で画像レコードを取得する。
// レコードが無い場合はErrImageNotFoundを返す。
func (s *imageStore) GetImageByName(ctx context.Context, name string) (ImageRecord, error) {
	return s.getImage(ctx, `SELECT id, name, type, image_data FROM image_data WHERE name = ?`, name)
}

// getImage は単一レコードを取得する共通処理。
func (s *imageStore) getImage(ctx context.Context, query string, arg any) (ImageRecord, error) {
	var rec ImageRecord
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&rec.ID, &rec.Name, &rec.Type, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return ImageRecord{}, ErrImageNotFound
	}
	if err != nil {
		return ImageRecord{}, fmt.Errorf("画像レコードの取得に失敗: %w", err)
	}
	return rec, nil
}
