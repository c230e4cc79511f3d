package middlewares

// gin context keys shared by middlewares and handlers.
const (
	CtxRequestID = "request_id"
	CtxJobID     = "job_id"
	CtxUserID    = "auth.userID"
	CtxRole      = "auth.role"
)
