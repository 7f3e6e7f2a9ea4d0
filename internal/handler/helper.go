package handler

import (
	"errors"
	"net/http"

	"thingdb/internal/service"

	"github.com/gin-gonic/gin"
)

// mapServiceError 把 Service 层哨兵错误转换为 HTTP 状态码和对外消息。
// 统一映射的价值：
// 1. Handler 不必散落大量 if/else 判断。
// 2. 对外返回口径稳定，避免泄露内部实现细节。
func mapServiceError(err error) (httpStatus int, message string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid request parameters"
	case errors.Is(err, service.ErrItemNotFound):
		return http.StatusNotFound, "Item not found"
	case errors.Is(err, service.ErrItemAlreadyExists):
		return http.StatusConflict, "Item with this GUID already exists"
	case errors.Is(err, service.ErrCycleDetected):
		return http.StatusBadRequest, "Cannot create circular reference"
	case errors.Is(err, service.ErrItemHasChildren):
		return http.StatusConflict, "Item still has contained items"
	case errors.Is(err, service.ErrAliasExists):
		return http.StatusBadRequest, "Code is already aliased to another item"
	case errors.Is(err, service.ErrAliasNotFound):
		return http.StatusNotFound, "Alias not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// respondError 按统一的响应信封写错误。
func respondError(c *gin.Context, err error) {
	status, msg := mapServiceError(err)
	c.JSON(status, gin.H{
		"code":    status,
		"message": msg,
	})
}

// respondBadRequest 参数在进业务层之前就被拦下时用。
func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    http.StatusBadRequest,
		"message": msg,
	})
}
