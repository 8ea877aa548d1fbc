package errors

import "google.golang.org/grpc/codes"

// 助手服务错误码: 21
var (
	// 请求参数错误 (类别 01)
	ErrAssistantInvalidRequest = Register(New(MakeCode(ServiceAssistant, CategoryRequest, 1), 400, codes.InvalidArgument,
		"Invalid question request", "Некорректный запрос"))
	ErrAssistantEmptyQuestion = Register(New(MakeCode(ServiceAssistant, CategoryRequest, 2), 400, codes.InvalidArgument,
		"Question is empty", "Какой у вас вопрос?"))

	// 检索结果 (类别 04)
	ErrAssistantNoInfo = Register(New(MakeCode(ServiceAssistant, CategoryResource, 1), 404, codes.NotFound,
		"No relevant information found", "К сожалению, не удалось найти релевантную информацию по вашему запросу."))

	// 限流 (类别 06)
	ErrAssistantRateLimited = Register(New(MakeCode(ServiceAssistant, CategoryRateLimit, 1), 429, codes.ResourceExhausted,
		"Rate limit exceeded", "⚠️ Превышен лимит запросов. Попробуйте через минуту."))

	// 上游服务 (类别 10)
	ErrAssistantUnavailable = Register(New(MakeCode(ServiceAssistant, CategoryNetwork, 1), 503, codes.Unavailable,
		"Answering service temporarily unavailable", "К сожалению, сервис временно недоступен. Пожалуйста, попробуйте позже."))
	ErrAssistantIndexUnavailable = Register(New(MakeCode(ServiceAssistant, CategoryNetwork, 2), 503, codes.Unavailable,
		"Document index unavailable", "Индекс документов недоступен"))

	// 超时 (类别 11)
	ErrAssistantTimeout = Register(New(MakeCode(ServiceAssistant, CategoryTimeout, 1), 504, codes.DeadlineExceeded,
		"Question timed out", "Превышено время ожидания ответа"))
)
