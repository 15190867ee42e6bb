package types

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRegister(t *testing.T) {
	frame := []byte(`{"type":"register","role":"student","languageCode":"es","classroomCode":"abc234"}`)

	msg, err := Decode(frame)
	require.NoError(t, err)

	reg, ok := msg.(Register)
	require.True(t, ok, "expected Register, got %T", msg)
	assert.Equal(t, RoleStudent, reg.Role)
	assert.Equal(t, "es", reg.LanguageCode)
	assert.Equal(t, "ABC234", reg.ClassroomCode, "codes are normalized to uppercase")
}

func TestDecodeAudioChunk(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0xff}
	frame, err := json.Marshal(map[string]any{
		"type":          "audio",
		"classroomCode": "QQQQQQ",
		"data":          base64.StdEncoding.EncodeToString(payload),
		"isFirstChunk":  true,
		"isFinalChunk":  false,
	})
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)

	chunk, ok := msg.(AudioChunk)
	require.True(t, ok)
	assert.Equal(t, payload, chunk.Data)
	assert.True(t, chunk.IsFirst)
	assert.False(t, chunk.IsFinal)
}

func TestDecodeAudioChunkAcceptsSessionIDAlias(t *testing.T) {
	frame := []byte(`{"type":"audio","sessionId":"abc234","data":"","isFinalChunk":true}`)

	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "ABC234", msg.(AudioChunk).ClassroomCode)
}

func TestDecodeAudioChunkRejectsBadBase64(t *testing.T) {
	frame := []byte(`{"type":"audio","classroomCode":"ABC234","data":"!!not base64!!"}`)

	_, err := Decode(frame)
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecodeRejectsEmptyAndOversizedFrames(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	big := make([]byte, MaxFrameSize+1)
	_, err = Decode(big)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodePing(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ping","timestamp":1712345678}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1712345678), msg.(Ping).Timestamp)
}

func TestDecodeStudentRequest(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"student_request","text":"question?","visibility":"private"}`))
	require.NoError(t, err)

	req := msg.(StudentRequest)
	assert.Equal(t, "question?", req.Text)
	assert.Equal(t, VisibilityPrivate, req.Visibility)
}

func TestTranslationFrameEncodesAudioAsBase64(t *testing.T) {
	unit := &TranslationUnit{
		OriginalText:   "hola",
		TranslatedText: "hello",
		SourceLanguage: "es",
		TargetLanguage: "en",
		Audio:          []byte{0xde, 0xad},
		CreatedAt:      time.Now(),
	}

	frame := NewTranslationFrame(unit, false)
	assert.Equal(t, MessageTypeTranslation, frame.Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString(unit.Audio), frame.AudioData)

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"originalText":"hola"`)
}

func TestErrorFrameCarriesTaxonomyCode(t *testing.T) {
	frame := NewErrorFrame(CodeClassroomNotFound, "no such classroom")

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"code":"ClassroomNotFound"`)
}
