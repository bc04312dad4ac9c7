package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// headerKeyRequestID はリクエスト相関用のHTTPヘッダーキー。
const headerKeyRequestID = "X-Request-ID"

// RequestID はリクエストごとに相関IDを付与するGinミドルウェアを返す。
// 呼び出し元がX-Request-IDを指定した場合はその値を尊重し、
// 未指定の場合はUUIDを新規に採番してレスポンスヘッダーに設定する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerKeyRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(headerKeyRequestID, id)
		c.Next()
	}
}
