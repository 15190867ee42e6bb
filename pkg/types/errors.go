package types

import "errors"

// ErrorCode is the stable, client-visible error taxonomy. Codes cross the
// wire inside error frames; the client reconnection state machine keys its
// behavior off them, so they must never be renamed.
type ErrorCode string

const (
	CodeClassroomNotFound      ErrorCode = "ClassroomNotFound"
	CodeClassroomExpired       ErrorCode = "ClassroomExpired"
	CodeClassroomFull          ErrorCode = "ClassroomFull"
	CodeUnboundSession         ErrorCode = "UnboundSession"
	CodeRegistrationRejected   ErrorCode = "RegistrationRejected"
	CodeTranslationUnavailable ErrorCode = "TranslationUnavailable"
	CodeDeliveryFailed         ErrorCode = "DeliveryFailed"
	CodeRateLimited            ErrorCode = "RateLimited"
	CodeInvalidMessage         ErrorCode = "InvalidMessage"

	// CodeAudioBufferAbandoned is logged server-side when an utterance
	// times out without its final chunk. It is never sent to a client.
	CodeAudioBufferAbandoned ErrorCode = "AudioBufferAbandoned"
)

// Validation errors shared across packages.
var (
	ErrInvalidRole          = errors.New("role must be 'teacher' or 'student'")
	ErrInvalidLanguageCode  = errors.New("language code must be an ISO 639 code, optionally with a region tag")
	ErrInvalidClassroomCode = errors.New("classroom code must be 6 characters from the code alphabet")
	ErrInvalidVisibility    = errors.New("visibility must be 'private' or 'broadcast'")
	ErrInvalidMode          = errors.New("mode must be 'auto' or 'manual'")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrEmptyFrame           = errors.New("empty frame")
	ErrFrameTooLarge        = errors.New("frame exceeds maximum size")
)
