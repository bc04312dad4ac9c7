package gateway

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。idはKeycloakのユーザーIDで、1ユーザーにつき画像は1件のみ。
const schema = `
CREATE TABLE IF NOT EXISTS image_data (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    image_data BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_image_data_name
    ON image_data(name);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
