package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// MaxFrameSize bounds a single inbound JSON frame. Audio chunks dominate
// frame size; 256KB comfortably fits one base64-encoded chunk at the
// capture interval the browser clients use.
const MaxFrameSize = 256 * 1024

// Inbound is the closed set of client-to-server messages. Frames are
// decoded exactly once at the transport boundary into one of these types;
// handlers dispatch with a type switch that covers every kind.
type Inbound interface {
	inbound()
}

// Register establishes the connection's role and language, and binds it to
// a classroom when a code is supplied. A teacher registering without a
// code gets a fresh classroom; a teacher registering with a code reclaims
// that classroom if it is still inside its grace period.
type Register struct {
	Role          string
	LanguageCode  string
	ClassroomCode string
	Name          string
}

// AudioChunk is one fragment of a streamed utterance.
type AudioChunk struct {
	ClassroomCode string
	Data          []byte
	IsFirst       bool
	IsFinal       bool
}

// TranscriptText is a teacher-side transcript segment, produced either by
// the browser recognizer (live echo) or typed in manual mode. Final
// segments enter the fan-out path like an assembled audio utterance.
type TranscriptText struct {
	Text    string
	IsFinal bool
}

// StudentRequest is a student-to-teacher text message.
type StudentRequest struct {
	Text       string
	Visibility string
}

// StudentAudio is a student-to-teacher audio message.
type StudentAudio struct {
	Data       []byte
	Visibility string
}

// SettingsChange carries a teacher's teaching-mode switch.
type SettingsChange struct {
	Mode string
}

// Ping is the liveness heartbeat; it also extends session expiry.
type Ping struct {
	Timestamp int64
}

func (Register) inbound()       {}
func (AudioChunk) inbound()     {}
func (TranscriptText) inbound() {}
func (StudentRequest) inbound() {}
func (StudentAudio) inbound()   {}
func (SettingsChange) inbound() {}
func (Ping) inbound()           {}

// envelope is the superset of wire fields across all inbound kinds. Field
// names match the browser client contract exactly.
type envelope struct {
	Type          string `json:"type"`
	Role          string `json:"role"`
	LanguageCode  string `json:"languageCode"`
	ClassroomCode string `json:"classroomCode"`
	SessionID     string `json:"sessionId"`
	Name          string `json:"name"`
	Data          string `json:"data"`
	IsFirstChunk  bool   `json:"isFirstChunk"`
	IsFinalChunk  bool   `json:"isFinalChunk"`
	Text          string `json:"text"`
	IsFinal       bool   `json:"isFinal"`
	Visibility    string `json:"visibility"`
	Mode          string `json:"mode"`
	Timestamp     int64  `json:"timestamp"`
}

// Decode parses one wire frame into its typed inbound message. Base64
// audio payloads are decoded here so nothing downstream touches wire
// encoding. Unknown types and malformed payloads return an error; the
// caller answers with an error frame rather than dropping the connection.
func Decode(frame []byte) (Inbound, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(frame) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case MessageTypeRegister:
		return Register{
			Role:          env.Role,
			LanguageCode:  env.LanguageCode,
			ClassroomCode: NormalizeClassroomCode(env.ClassroomCode),
			Name:          env.Name,
		}, nil

	case MessageTypeAudio:
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("audio chunk is not valid base64: %w", err)
		}
		code := env.ClassroomCode
		if code == "" {
			code = env.SessionID
		}
		return AudioChunk{
			ClassroomCode: NormalizeClassroomCode(code),
			Data:          data,
			IsFirst:       env.IsFirstChunk,
			IsFinal:       env.IsFinalChunk,
		}, nil

	case MessageTypeTranscription:
		return TranscriptText{Text: env.Text, IsFinal: env.IsFinal}, nil

	case MessageTypeStudentRequest:
		return StudentRequest{Text: env.Text, Visibility: env.Visibility}, nil

	case MessageTypeStudentAudio:
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("student audio is not valid base64: %w", err)
		}
		return StudentAudio{Data: data, Visibility: env.Visibility}, nil

	case MessageTypeSettings:
		return SettingsChange{Mode: env.Mode}, nil

	case MessageTypePing:
		return Ping{Timestamp: env.Timestamp}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

// Server-to-client frames. Constructors set the discriminating type field
// so handlers cannot emit a frame with a missing or mistyped tag.

type ConnectionAck struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status,omitempty"`
}

func NewConnectionAck(connectionID string) ConnectionAck {
	return ConnectionAck{Type: MessageTypeConnection, SessionID: connectionID, Status: "connected"}
}

type ClassroomCodeFrame struct {
	Type      string    `json:"type"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reclaimed bool      `json:"reclaimed,omitempty"`
}

func NewClassroomCodeFrame(code string, expiresAt time.Time, reclaimed bool) ClassroomCodeFrame {
	return ClassroomCodeFrame{Type: MessageTypeClassroomCode, Code: code, ExpiresAt: expiresAt, Reclaimed: reclaimed}
}

type TranslationFrame struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	OriginalText   string `json:"originalText"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
	AudioData      string `json:"audioData,omitempty"`
	Visibility     string `json:"visibility,omitempty"`
	Replayed       bool   `json:"replayed,omitempty"`
}

func NewTranslationFrame(unit *TranslationUnit, replayed bool) TranslationFrame {
	frame := TranslationFrame{
		Type:           MessageTypeTranslation,
		Text:           unit.TranslatedText,
		OriginalText:   unit.OriginalText,
		SourceLanguage: unit.SourceLanguage,
		TargetLanguage: unit.TargetLanguage,
		Visibility:     unit.Visibility,
		Replayed:       replayed,
	}
	if len(unit.Audio) > 0 {
		frame.AudioData = base64.StdEncoding.EncodeToString(unit.Audio)
	}
	return frame
}

type TranscriptionFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

func NewTranscriptionFrame(text string, isFinal bool) TranscriptionFrame {
	return TranscriptionFrame{Type: MessageTypeTranscription, Text: text, IsFinal: isFinal}
}

type StudentRequestFrame struct {
	Type       string `json:"type"`
	FromID     string `json:"fromId"`
	FromName   string `json:"fromName,omitempty"`
	Language   string `json:"language"`
	Text       string `json:"text,omitempty"`
	AudioData  string `json:"audioData,omitempty"`
	Visibility string `json:"visibility"`
}

func NewStudentRequestFrame(req *PendingStudentRequest, fromName string) StudentRequestFrame {
	frame := StudentRequestFrame{
		Type:       MessageTypeStudentRequest,
		FromID:     req.StudentID,
		FromName:   fromName,
		Language:   req.StudentLang,
		Text:       req.Text,
		Visibility: req.Visibility,
	}
	if len(req.Audio) > 0 {
		frame.AudioData = base64.StdEncoding.EncodeToString(req.Audio)
	}
	return frame
}

type RosterFrame struct {
	Type         string   `json:"type"`
	StudentCount int      `json:"studentCount"`
	Languages    []string `json:"languages"`
}

func NewRosterFrame(studentCount int, languages []string) RosterFrame {
	return RosterFrame{Type: MessageTypeRoster, StudentCount: studentCount, Languages: languages}
}

type ErrorFrame struct {
	Type    string    `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func NewErrorFrame(code ErrorCode, message string) ErrorFrame {
	return ErrorFrame{Type: MessageTypeError, Code: code, Message: message}
}

type PongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPongFrame(timestamp int64) PongFrame {
	return PongFrame{Type: MessageTypePong, Timestamp: timestamp}
}
