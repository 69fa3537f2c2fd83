package middleware

import (
	"net/http"
	"runtime/debug"

	"optqueue/internal/model"
	"optqueue/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery middleware catches panic and converts it to an error envelope
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()

				logger.ErrorCtx(c.Request.Context(),
					"panic recovered: %v\nstack:\n%s",
					err,
					string(stack),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, model.Failure("internal server error"))
			}
		}()

		c.Next()
	}
}
