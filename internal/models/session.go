package models

import "time"

// FormStatus represents where a form is in the submission cycle.
type FormStatus string

const (
	FormStatusIdle       FormStatus = "idle"
	FormStatusSubmitting FormStatus = "submitting"
	FormStatusSuccess    FormStatus = "success"
	FormStatusFailure    FormStatus = "failure"
)

// ResponseShape describes the top-level JSON kind of a successful response.
type ResponseShape string

const (
	ShapeNone   ResponseShape = ""
	ShapeObject ResponseShape = "object"
	ShapeArray  ResponseShape = "array"
	ShapeScalar ResponseShape = "scalar"
)

const (
	// ResponsePlaceholder is shown before any submission has resolved.
	ResponsePlaceholder = "No response yet..."
	// ResponseNoFile is shown when submit is attempted without a file.
	ResponseNoFile = "Please select a file first."
	// ResponseUnknownError is shown when a failure carries no message.
	ResponseUnknownError = "An unknown error occurred."
)

// FormState is a point-in-time snapshot of one mounted upload form.
type FormState struct {
	ID            string        `json:"id" msgpack:"id"`
	Status        FormStatus    `json:"status" msgpack:"status"`
	ResponseText  string        `json:"responseText" msgpack:"responseText"`
	ResponseShape ResponseShape `json:"responseShape,omitempty" msgpack:"responseShape,omitempty"`
	File          *FileInfo     `json:"file,omitempty" msgpack:"file,omitempty"`
	Preview       *PreviewRef   `json:"preview,omitempty" msgpack:"preview,omitempty"`
	Sequence      uint64        `json:"sequence" msgpack:"sequence"`
	MountedAt     time.Time     `json:"mountedAt" msgpack:"mountedAt"`
}

// NewFormState creates a FormState in idle status.
func NewFormState(id string) *FormState {
	return &FormState{
		ID:           id,
		Status:       FormStatusIdle,
		ResponseText: ResponsePlaceholder,
		MountedAt:    time.Now(),
	}
}
