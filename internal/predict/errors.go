package predict

import (
	"fmt"

	"github.com/predictform/server/internal/models"
)

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Error: %d", e.Code)
}

// DecodeError reports a success response whose body is not JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Describe turns any submission failure into the text shown in the response
// panel: "Error: " followed by the failure message, or a generic message
// when there is none.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return "Error: " + msg
	}
	return models.ResponseUnknownError
}
