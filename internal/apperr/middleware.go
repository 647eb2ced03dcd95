package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Respond renders err as the appropriate JSON envelope and aborts the
// context. Cryptographic verifier reasons render as
// {ok:false,decision:"FAILED",reason:...} per spec.md §4.5/§7; every
// other kind renders as {success:false,error:{code,message}}, matching
// the teacher's auth-middleware envelope.
func Respond(c *gin.Context, err error) {
	ae, ok := err.(*Error)
	if !ok {
		ae = Wrap(err, "internal error")
	}

	if ae.Kind == KindInternal {
		ReportFunc(c, ae)
	}

	if IsCryptoReason(ae.Kind) {
		c.JSON(ae.Status(), gin.H{
			"ok":       false,
			"decision": "FAILED",
			"reason":   string(ae.Kind),
		})
		c.Abort()
		return
	}

	body := gin.H{
		"success": false,
		"error": gin.H{
			"code":    string(ae.Kind),
			"message": ae.Message,
		},
	}
	if ae.Field != "" {
		body["error"].(gin.H)["field"] = ae.Field
	}
	c.JSON(ae.Status(), body)
	c.Abort()
}

// ReportFunc is invoked for internal_error responses so obs/sentry can
// hook in without apperr importing it (avoids an import cycle; wired in
// cmd/api/main.go).
var ReportFunc = func(c *gin.Context, err *Error) {}

// Recovery turns panics into internal_error responses instead of
// crashing the process, matching spec.md §7's "never crash the process"
// requirement for unexpected failures.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":    string(KindInternal),
						"message": "internal error",
					},
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
