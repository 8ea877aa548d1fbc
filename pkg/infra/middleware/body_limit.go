package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/anticorruption-bot/pkg/utils/errors"
	"github.com/kart-io/anticorruption-bot/pkg/utils/response"
)

// DefaultBodyLimit 问答请求体的默认上限。
const DefaultBodyLimit int64 = 64 * 1024

// BodyLimit 限制请求体大小。
//
// 先检查 Content-Length，超限立即拒绝；其余情况由 http.MaxBytesReader
// 在读取时截断，绑定 JSON 时返回错误。
func BodyLimit(maxSize int64) gin.HandlerFunc {
	if maxSize <= 0 {
		maxSize = DefaultBodyLimit
	}

	return func(c *gin.Context) {
		req := c.Request
		if req.ContentLength > maxSize {
			logger.Warnw("request body too large",
				"path", req.URL.Path,
				"content_length", req.ContentLength,
				"max_size", maxSize,
			)
			response.Fail(c, errors.ErrRequestTooLarge)
			c.Abort()
			return
		}

		req.Body = http.MaxBytesReader(c.Writer, req.Body, maxSize)
		c.Next()
	}
}
