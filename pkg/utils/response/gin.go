package response

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/anticorruption-bot/pkg/infra/middleware/common"
	"github.com/kart-io/anticorruption-bot/pkg/utils/errors"
)

// JSON writes r with its HTTP status and the request ID from the context.
func JSON(c *gin.Context, r *Response) {
	if r.RequestID == "" {
		r.RequestID = common.GetRequestID(c.Request.Context())
	}
	c.JSON(r.HTTPStatus(), r)
}

// OK writes a success envelope.
func OK(c *gin.Context, data interface{}) {
	JSON(c, Success(data))
}

// Fail writes an error envelope. Errors that carry no errno become ErrInternal.
func Fail(c *gin.Context, err error) {
	FailWithData(c, err, nil)
}

// FailWithData writes an error envelope that still carries a payload.
func FailWithData(c *gin.Context, err error, data interface{}) {
	e := errors.FromError(err)
	if e == nil {
		e = errors.ErrInternal
	}
	JSON(c, ErrWithLang(e, Lang(c)).WithData(data))
}

// Lang returns the primary language tag of Accept-Language, e.g. "ru".
func Lang(c *gin.Context) string {
	lang := c.GetHeader("Accept-Language")
	if i := strings.IndexAny(lang, ",;"); i >= 0 {
		lang = lang[:i]
	}
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
