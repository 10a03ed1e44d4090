package middleware

import (
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"catsync/internal/logger"

	"github.com/gin-gonic/gin"
)

func Recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		// Client went away mid-response; nothing to report.
		if ne, ok := recovered.(*net.OpError); ok {
			if se, ok := ne.Err.(*os.SyscallError); ok {
				msg := strings.ToLower(se.Error())
				if strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer") {
					c.Abort()
					return
				}
			}
		}

		log.Error("panic recovered: %v\n%s", recovered, debug.Stack())
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
