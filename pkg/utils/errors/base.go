package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

var (
	// OK 成功
	OK = Register(New(0, http.StatusOK, codes.OK, "Success", "Успешно"))

	ErrBadRequest = Register(New(MakeCode(ServiceCommon, CategoryRequest, 0), http.StatusBadRequest, codes.InvalidArgument,
		"Bad request", "Некорректный запрос"))
	ErrRequestTooLarge = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1), http.StatusRequestEntityTooLarge, codes.InvalidArgument,
		"Request body too large", "Слишком большой запрос"))
	ErrRouteNotFound = Register(New(MakeCode(ServiceCommon, CategoryResource, 0), http.StatusNotFound, codes.NotFound,
		"Route not found", "Маршрут не найден"))
	ErrTooManyRequests = Register(New(MakeCode(ServiceCommon, CategoryRateLimit, 0), http.StatusTooManyRequests, codes.ResourceExhausted,
		"Too many requests", "Слишком много запросов"))
	ErrInternal = Register(New(MakeCode(ServiceCommon, CategoryInternal, 0), http.StatusInternalServerError, codes.Internal,
		"Internal server error", "Внутренняя ошибка сервера"))
	ErrServiceUnavailable = Register(New(MakeCode(ServiceCommon, CategoryNetwork, 0), http.StatusServiceUnavailable, codes.Unavailable,
		"Service unavailable", "Сервис недоступен"))
	ErrCache = Register(New(MakeCode(ServiceInfraCache, CategoryCache, 1), http.StatusInternalServerError, codes.Internal,
		"Cache error", "Ошибка кэша"))
)
