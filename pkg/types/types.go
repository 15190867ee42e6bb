package types

import (
	"time"
)

// Message type constants shared by both ends of the wire. Every frame is a
// single JSON object carrying one of these in its "type" field.
const (
	MessageTypeRegister       = "register"
	MessageTypeConnection     = "connection"
	MessageTypeClassroomCode  = "classroom_code"
	MessageTypeAudio          = "audio"
	MessageTypeTranscription  = "transcription"
	MessageTypeTranslation    = "translation"
	MessageTypeStudentRequest = "student_request"
	MessageTypeStudentAudio   = "student_audio"
	MessageTypeRoster         = "roster"
	MessageTypeSettings       = "settings"
	MessageTypeError          = "error"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
)

// Connection roles.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Visibility of student-initiated messages.
const (
	VisibilityPrivate   = "private"
	VisibilityBroadcast = "broadcast"
)

// Teaching modes. Auto means continuous speech capture on the teacher
// side, manual means explicit push-to-talk / typed segments.
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

// Classroom statuses as reported to API consumers. A classroom whose
// teacher has disconnected stays inactive (not destroyed) until the grace
// period elapses, so the same code can be reclaimed on reconnect.
const (
	ClassroomStatusActive   = "active"
	ClassroomStatusInactive = "inactive"
)

// Classroom is an immutable snapshot of one classroom session, exposed to
// the HTTP API and to newly registered teachers. The mutable session state
// itself is owned by the classroom manager.
type Classroom struct {
	Code         string    `json:"code"`
	TeacherID    string    `json:"teacher_id"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	StudentCount int       `json:"student_count"`
	Languages    []string  `json:"languages,omitempty"`
}

// TranslationUnit is one translated utterance for one target language.
// Created once per distinct (utterance, target language) pair, immutable
// after creation, shared read-only by every delivery in that language.
type TranslationUnit struct {
	UtteranceID    string    `json:"utterance_id"`
	ClassroomCode  string    `json:"classroom_code"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Audio          []byte    `json:"-"`
	Visibility     string    `json:"visibility"`
	CreatedAt      time.Time `json:"created_at"`
}

// PendingStudentRequest is a student-initiated message travelling the
// reverse direction, toward the session's teacher. Consumed once by the
// teacher-facing delivery path, then discarded.
type PendingStudentRequest struct {
	ClassroomCode string
	StudentID     string
	StudentLang   string
	Text          string
	Audio         []byte
	Visibility    string
}

// Utterance is one fully reassembled segment handed from the ingestion
// pipeline to the fan-out router. Exactly one of Audio or Text is set:
// Audio for assembled speech, Text for manual-mode typed segments and for
// transcripts echoed by the teacher's browser recognizer.
type Utterance struct {
	ID             string
	ClassroomCode  string
	SourceLanguage string
	Audio          []byte
	Text           string
	AssembledAt    time.Time
}
