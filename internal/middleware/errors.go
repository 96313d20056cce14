package middleware

// ErrorResponse mirrors api.ErrorResponse; it is duplicated here to avoid an import cycle.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Context keys set by the middleware in this package.
const (
	ContextUserID    = "userID"
	ContextUserEmail = "userEmail"
	ContextRequestID = "requestID"
	ContextLogger    = "logger"
)
