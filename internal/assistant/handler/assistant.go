// Package handler provides HTTP handlers for the assistant.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/anticorruption-bot/internal/assistant/biz"
	"github.com/kart-io/anticorruption-bot/internal/assistant/metrics"
	"github.com/kart-io/anticorruption-bot/pkg/infra/middleware/common"
	apierrors "github.com/kart-io/anticorruption-bot/pkg/utils/errors"
	"github.com/kart-io/anticorruption-bot/pkg/utils/response"
)

// MetricsNamespace Prometheus 指标前缀。
const MetricsNamespace = "anticorruption_bot"

// Service 处理器依赖的流水线能力。
type Service interface {
	Answer(ctx context.Context, req biz.Request) biz.Reply
	Status() biz.Status
	Metrics() *metrics.Metrics
}

// AssistantHandler handles question answering HTTP requests.
type AssistantHandler struct {
	service Service
}

// NewAssistantHandler creates a new AssistantHandler.
func NewAssistantHandler(service Service) *AssistantHandler {
	return &AssistantHandler{service: service}
}

// AskRequest represents a question request.
type AskRequest struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
}

// outcomeErrors 非成功结果对应的错误码，answered 不在其中。
var outcomeErrors = map[biz.Outcome]*apierrors.Errno{
	biz.OutcomeEmptyQuery:  apierrors.ErrAssistantEmptyQuestion,
	biz.OutcomeRateLimited: apierrors.ErrAssistantRateLimited,
	biz.OutcomeNoInfo:      apierrors.ErrAssistantNoInfo,
	biz.OutcomeUnavailable: apierrors.ErrAssistantUnavailable,
}

// Ask answers one question. Every outcome carries the reply in data.
func (h *AssistantHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, apierrors.ErrRequestTooLarge)
			return
		}
		response.Fail(c, apierrors.ErrAssistantInvalidRequest.WithCause(err))
		return
	}

	ctx := c.Request.Context()
	reply := h.service.Answer(ctx, biz.Request{
		UserID:    req.UserID,
		Text:      req.Question,
		RequestID: common.GetRequestID(ctx),
	})

	// 超过请求期限时，用超时码代替不可用
	if reply.Outcome == biz.OutcomeUnavailable && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		response.FailWithData(c, apierrors.ErrAssistantTimeout, reply)
		return
	}

	if e, ok := outcomeErrors[reply.Outcome]; ok {
		response.FailWithData(c, e, reply)
		return
	}
	response.OK(c, reply)
}

// Health reports index status. 503 when the vector index is unavailable.
func (h *AssistantHandler) Health(c *gin.Context) {
	st := h.service.Status()
	if !st.Healthy {
		response.FailWithData(c, apierrors.ErrAssistantIndexUnavailable, st)
		return
	}
	response.OK(c, st)
}

// Metrics writes the pipeline metrics in Prometheus text format.
func (h *AssistantHandler) Metrics(c *gin.Context) {
	body := h.service.Metrics().Export(MetricsNamespace, "assistant")
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(body))
}
