package translate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lingolink/internal/config"
	"lingolink/pkg/interfaces"
)

// HTTPProvider talks to the external speech service: one POST per
// (utterance, target language), carrying either text or base64 audio, and
// getting back transcribed source text, translated text, and optional
// synthesized speech. The service's own pipeline (STT, MT, TTS vendors)
// is its business; the core only sees this one call.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

var _ interfaces.Translator = (*HTTPProvider)(nil)

func NewHTTPProvider(cfg config.TranslateConfig, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

type wireRequest struct {
	Text           string `json:"text,omitempty"`
	AudioData      string `json:"audioData,omitempty"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
	WantAudio      bool   `json:"wantAudio"`
}

type wireResponse struct {
	SourceText string `json:"sourceText"`
	Text       string `json:"text"`
	AudioData  string `json:"audioData,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (p *HTTPProvider) Translate(ctx context.Context, req interfaces.TranslateRequest) (interfaces.TranslateResult, error) {
	wire := wireRequest{
		Text:           req.Text,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		WantAudio:      req.WantAudio,
	}
	if len(req.Audio) > 0 {
		wire.AudioData = base64.StdEncoding.EncodeToString(req.Audio)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return interfaces.TranslateResult{}, fmt.Errorf("encode translate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return interfaces.TranslateResult{}, fmt.Errorf("build translate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return interfaces.TranslateResult{}, fmt.Errorf("translate call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain a little for the error message without trusting the
		// backend to be brief.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return interfaces.TranslateResult{}, fmt.Errorf("translate backend returned %d: %s", resp.StatusCode, snippet)
	}

	var wireResp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return interfaces.TranslateResult{}, fmt.Errorf("decode translate response: %w", err)
	}
	if wireResp.Error != "" {
		return interfaces.TranslateResult{}, fmt.Errorf("translate backend error: %s", wireResp.Error)
	}

	result := interfaces.TranslateResult{
		SourceText: wireResp.SourceText,
		Text:       wireResp.Text,
	}
	if wireResp.AudioData != "" {
		audio, err := base64.StdEncoding.DecodeString(wireResp.AudioData)
		if err != nil {
			return interfaces.TranslateResult{}, fmt.Errorf("decode synthesized audio: %w", err)
		}
		result.Audio = audio
	}

	p.logger.Debug("translate call complete",
		zap.String("source", req.SourceLanguage),
		zap.String("target", req.TargetLanguage),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("audio", len(result.Audio) > 0))
	return result, nil
}
