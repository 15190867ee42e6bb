package interfaces

import "errors"

// Classroom lifecycle errors shared between the manager implementation
// and its consumers (websocket handler, HTTP API, client library). The
// handler maps these onto the wire error taxonomy in pkg/types.
var (
	ErrClassroomNotFound = errors.New("classroom not found")
	ErrClassroomExpired  = errors.New("classroom expired")
	ErrClassroomFull     = errors.New("classroom is at its student capacity")
	ErrNotTeacher        = errors.New("operation requires the classroom's teacher")
	ErrCodeSpaceBusy     = errors.New("could not generate an unused classroom code")
)
