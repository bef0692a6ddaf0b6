package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gopherchat/gopherchat/internal/common"
)

// Recovery logs the panic with full detail and returns a generic message,
// never the panic value itself.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[recovery] panic: %v path=%s", r, c.FullPath())
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
