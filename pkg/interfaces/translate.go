package interfaces

import "context"

// TranslateRequest carries one utterance to the external speech capability.
// Exactly one of Text or Audio is set. The capability transcribes audio in
// the source language when needed, translates into the target language,
// and optionally synthesizes speech for the translated text.
type TranslateRequest struct {
	Text           string
	Audio          []byte
	SourceLanguage string
	TargetLanguage string
	// WantAudio asks the provider to synthesize speech for the result.
	WantAudio bool
}

// TranslateResult is the capability's answer for one target language.
type TranslateResult struct {
	// SourceText is the (possibly transcribed) text in the source language.
	SourceText string
	// Text is the translation in the target language.
	Text string
	// Audio is synthesized speech for Text, empty when not requested or
	// not available.
	Audio []byte
}

// Translator is the single external capability the core depends on. Calls
// are bounded by ctx; a timeout or failure affects only the requested
// target language, never the whole utterance.
type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (TranslateResult, error)
}
