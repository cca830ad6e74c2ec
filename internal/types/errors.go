package types

import "fmt"

// PipelineError is the error taxonomy shared by the pipeline stages.
// Two PipelineErrors match under errors.Is when their codes are equal.
type PipelineError struct {
	Code    string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPreflight) succeed for copies produced by WithError.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithError returns a copy of e carrying err as its cause.
func (e *PipelineError) WithError(err error) *PipelineError {
	return &PipelineError{Code: e.Code, Message: e.Message, Err: err}
}

var (
	ErrNormalization = &PipelineError{
		Code:    "NORMALIZATION_FAILED",
		Message: "Image could not be normalized",
	}

	ErrGalleryAccess = &PipelineError{
		Code:    "GALLERY_ACCESS",
		Message: "Encoding gallery is not readable and writable",
	}

	ErrPreflight = &PipelineError{
		Code:    "PREFLIGHT_FAILED",
		Message: "Image or gallery file missing or empty",
	}

	ErrEngineCall = &PipelineError{
		Code:    "ENGINE_CALL_FAILED",
		Message: "Recognition engine call failed",
	}

	ErrResultParse = &PipelineError{
		Code:    "RESULT_PARSE",
		Message: "result parse error",
	}

	ErrInvalidName = &PipelineError{
		Code:    "INVALID_NAME",
		Message: "Please enter your name",
	}

	ErrNoPhotoCaptured = &PipelineError{
		Code:    "NO_PHOTO_CAPTURED",
		Message: "Please take a picture",
	}

	ErrCaptureGated = &PipelineError{
		Code:    "CAPTURE_GATED",
		Message: "Face is not positioned for capture",
	}
)
