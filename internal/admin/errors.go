package admin

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/import-export-admin/internal/jobs"
)

// Error はクライアントに返すエラーコードとメッセージを持ちます。
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func invalidInput(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "INVALID_INPUT", Message: message}
}

func notFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message}
}

func forbidden(message string) *Error {
	return &Error{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: message}
}

// ValidationErrors はフォームの検証エラーです。キーはフィールド名です。
type ValidationErrors map[string][]string

func (v ValidationErrors) Error() string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+strings.Join(v[name], " "))
	}
	return strings.Join(parts, "; ")
}

// Add はフィールドにエラーメッセージを追加します。
func (v ValidationErrors) Add(field, message string) {
	v[field] = append(v[field], message)
}

func respondWithError(c *gin.Context, err error) {
	var (
		apiErr    *Error
		validated ValidationErrors
	)
	switch {
	case errors.As(err, &validated):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "VALIDATION_FAILED",
			"message": "入力内容を確認してください。",
			"fields":  validated,
		})
	case errors.As(err, &apiErr):
		c.JSON(apiErr.Status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
