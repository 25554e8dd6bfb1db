package middleware

import (
	"net/http"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/modules"
)

// RequestError wraps an error for the request lifecycle so a handler can
// abort with a consistent JSON payload.
type RequestError struct {
	err    error
	status int
}

// NewError returns a new RequestError for the provided error.
func NewError(err error) *RequestError {
	return &RequestError{
		// Attach a stack trace to the error if one is missing at this point.
		err: errors.WithStackDepthIf(err, 1),
	}
}

// SetStatus sets the HTTP status code the error responds with.
func (re *RequestError) SetStatus(s int) {
	re.status = s
}

// Abort aborts the request with the given status code and the error payload.
func (re *RequestError) Abort(c *gin.Context, status int) {
	reqId := c.Writer.Header().Get("X-Request-Id")

	// Log the internal error so it can be traced back with the request id that
	// is also returned to the caller.
	if status >= 500 {
		log.WithFields(log.Fields{"request_id": reqId, "url": c.Request.URL.String()}).WithError(re.err).Error("error while handling HTTP request")
	} else {
		log.WithFields(log.Fields{"request_id": reqId, "url": c.Request.URL.String()}).WithError(re.err).Debug("error handling HTTP request (not a server error)")
	}

	c.AbortWithStatusJSON(status, gin.H{"error": re.Error(), "request_id": reqId})
}

// Error returns the sanitized message sent back to API callers.
func (re *RequestError) Error() string {
	if re.status >= 500 || re.status == 0 {
		return "An unexpected error was encountered while processing this request."
	}
	return re.err.Error()
}

// Cause returns the underlying error.
func (re *RequestError) Cause() error {
	return re.err
}

// CaptureAndAbort aborts the request with the given error. Status codes are
// derived from the error; anything unrecognized is a 500.
func CaptureAndAbort(c *gin.Context, err error) {
	re := NewError(err)
	status := http.StatusInternalServerError
	if re.status > 0 {
		status = re.status
	}
	re.Abort(c, status)
}

// AttachRequestID attaches a unique ID to the incoming HTTP request so that
// errors bubbling up the stack can be correlated with a specific request.
func AttachRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Set("logger", log.WithField("request_id", id))
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// CaptureErrors is a middleware to capture any errors attached to the gin
// context during the request lifecycle and respond with them once.
func CaptureErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		err := c.Errors.Last()
		if err == nil || err.Err == nil {
			return
		}
		CaptureAndAbort(c, err.Err)
	}
}

// SetAccessControlHeaders sets the CORS headers for the request.
func SetAccessControlHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequireAuthorization authenticates the request against the configured API
// token. Requests without a valid Bearer token are rejected before reaching
// any handler.
func RequireAuthorization() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := config.Get().Api.Token
		auth := c.GetHeader("Authorization")

		if token == "" {
			CaptureAndAbort(c, errors.New("middleware/authorization: no api token has been configured"))
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "You are not authorized to access this endpoint."})
			return
		}
		c.Next()
	}
}

// AttachSupervisor attaches the module supervisor to the request context.
func AttachSupervisor(s *modules.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("supervisor", s)
		c.Next()
	}
}

// ExtractSupervisor returns the supervisor attached to the request.
func ExtractSupervisor(c *gin.Context) *modules.Supervisor {
	v, ok := c.Get("supervisor")
	if !ok {
		panic("middleware/middleware: cannot extract supervisor: not attached to request")
	}
	return v.(*modules.Supervisor)
}

// AttachQueue attaches the shared task queue to the request context.
func AttachQueue(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("queue", q)
		c.Next()
	}
}

// ExtractQueue returns the task queue attached to the request.
func ExtractQueue(c *gin.Context) *queue.Queue {
	v, ok := c.Get("queue")
	if !ok {
		panic("middleware/middleware: cannot extract queue: not attached to request")
	}
	return v.(*queue.Queue)
}

// ExtractLogger returns the request-scoped logger, falling back to the global
// logger when the request id middleware did not run.
func ExtractLogger(c *gin.Context) *log.Entry {
	v, ok := c.Get("logger")
	if !ok {
		return log.WithField("request_id", "")
	}
	return v.(*log.Entry)
}
