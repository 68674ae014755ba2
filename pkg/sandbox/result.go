package sandbox

// ExecutionResult is the outcome of a single code or command execution.
// A nil Error means success. The zero value is ("", nil).
type ExecutionResult struct {
	Logs  string  `json:"logs"`
	Error *string `json:"error"`
}

// NewResult returns a successful result carrying logs.
func NewResult(logs string) ExecutionResult {
	return ExecutionResult{Logs: logs}
}

// Failed returns a result carrying logs and a backend-reported error message.
func Failed(logs, msg string) ExecutionResult {
	return ExecutionResult{Logs: logs, Error: &msg}
}

// HasError reports whether the execution failed.
func (r ExecutionResult) HasError() bool {
	return r.Error != nil
}

// ErrorText returns the error message, or an empty string on success.
func (r ExecutionResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}
