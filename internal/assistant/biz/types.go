package biz

// Outcome 一次提问的最终结果。
type Outcome string

const (
	OutcomeAnswered    Outcome = "answered"
	OutcomeNoInfo      Outcome = "no_info"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeEmptyQuery  Outcome = "empty_query"
)

// 面向用户的固定回复。
const (
	ReplyNoInfo      = "К сожалению, не удалось найти релевантную информацию по вашему запросу."
	ReplyUnavailable = "К сожалению, сервис временно недоступен. Пожалуйста, попробуйте позже."
	ReplyRateLimited = "⚠️ Превышен лимит запросов. Попробуйте через минуту."
)

// Origin 检索片段的来源路径。
type Origin string

const (
	OriginVector  Origin = "vector"
	OriginLexical Origin = "lexical"
)

// Request 一次提问。
type Request struct {
	// UserID 限流使用的用户标识。
	UserID string
	// Text 问题原文。
	Text string
	// RequestID 为空时自动生成。
	RequestID string
}

// Reply 流水线的输出，所有传输层都只投递 Text。
type Reply struct {
	Text      string  `json:"reply"`
	Outcome   Outcome `json:"outcome"`
	RequestID string  `json:"request_id"`
	Chunks    int     `json:"chunks"`
}

// RetrievedChunk 单次查询中检索到的片段，用完即弃。
type RetrievedChunk struct {
	Text   string
	Source string
	Origin Origin
}
