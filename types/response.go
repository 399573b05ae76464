package types

import "fmt"

// Result is the JSON envelope the API answers with.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

func NewResult(message string) Result {
	return Result{Success: true, Message: message}
}

func (r Result) WithID(id string) Result {
	r.ID = id
	return r
}

func (r Result) WithErrorf(format string, args ...any) Result {
	return r.WithError(fmt.Errorf(format, args...))
}

func (r Result) WithError(err error) Result {
	r.Success = false
	r.Message = err.Error()
	return r
}

// SendResult reports the outcome of an immediate send.
type SendResult struct {
	Result
	Sent           int `json:"sent"`
	Failed         int `json:"failed"`
	ExpiredRemoved int `json:"expiredRemoved"`
}
