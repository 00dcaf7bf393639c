package protocol

// 错误码，随 error 帧下发给客户端
const (
	CodeAuthFailed     = "AUTH_FAILED"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeNotParticipant = "NOT_PARTICIPANT"
	CodeHTTPError      = "HTTP_ERROR"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
)

// Error is a routable error value carrying a wire code. The router
// propagates these as values, never as panics.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func NewError(code string, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}
