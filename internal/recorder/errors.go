package recorder

import "errors"

// Error is a bridge failure with a stable code for the host.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrMissingPermission       = &Error{Code: "MISSING_PERMISSION", Message: "microphone permission not granted"}
	ErrAlreadyRecording        = &Error{Code: "ALREADY_RECORDING", Message: "a recording is already in progress"}
	ErrCannotRecordOnThisPhone = &Error{Code: "CANNOT_RECORD_ON_THIS_PHONE", Message: "this device cannot record audio"}
	ErrRecordingHasNotStarted  = &Error{Code: "RECORDING_HAS_NOT_STARTED", Message: "no recording in progress"}
	ErrFailedToRecord          = &Error{Code: "FAILED_TO_RECORD", Message: "recording could not be started"}
	ErrEmptyRecording          = &Error{Code: "EMPTY_RECORDING", Message: "recording captured no audio"}
	ErrFailedToFetchRecording  = &Error{Code: "FAILED_TO_FETCH_RECORDING", Message: "recording clip could not be read"}
)

// Code returns the bridge code carried by err, or "" for other errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
