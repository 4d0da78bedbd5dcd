package toolregistry

import "encoding/json"

// ErrorCode classifies a failed dispatch.
type ErrorCode string

const (
	CodeToolNotFound        ErrorCode = "TOOL_NOT_FOUND"
	CodeValidationError     ErrorCode = "VALIDATION_ERROR"
	CodePermissionDenied    ErrorCode = "PERMISSION_DENIED"
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	CodeExecutionError      ErrorCode = "EXECUTION_ERROR"
	CodeTimeout             ErrorCode = "TIMEOUT"
)

// OutcomeOK is the outcome label of a successful dispatch.
const OutcomeOK = "ok"

// ErrorInfo is the error half of the envelope.
type ErrorInfo struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// Result is the envelope every Execute call returns.
type Result struct {
	Success bool
	Data    interface{}
	Error   *ErrorInfo

	cause error
}

// Cause is the original handler or ledger error behind a failure, if any.
// It is never serialized.
func (r Result) Cause() error {
	return r.cause
}

// Outcome is "ok" or the error code.
func (r Result) Outcome() string {
	if r.Success || r.Error == nil {
		return OutcomeOK
	}
	return string(r.Error.Code)
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(struct {
			Success bool        `json:"success"`
			Data    interface{} `json:"data"`
		}{true, r.Data})
	}
	return json.Marshal(struct {
		Success bool       `json:"success"`
		Error   *ErrorInfo `json:"error"`
	}{false, r.Error})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var wire struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *ErrorInfo      `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Result{Success: wire.Success, Error: wire.Error}
	if len(wire.Data) > 0 {
		var v interface{}
		if err := json.Unmarshal(wire.Data, &v); err != nil {
			return err
		}
		r.Data = v
	}
	return nil
}

func success(data interface{}) Result {
	return Result{Success: true, Data: data}
}

func failure(code ErrorCode, message string, retryable bool, cause error) Result {
	return Result{
		Error: &ErrorInfo{Code: code, Message: message, Retryable: retryable},
		cause: cause,
	}
}
