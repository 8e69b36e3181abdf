// Package voice implements the Yandex SpeechKit speech-to-text client
// (component H's voice ingress collaborator). No STT SDK appears anywhere
// in the reference corpus, so this is hand-written net/http + jsoniter,
// grounded on original_source's speechkit.py; the client struct and
// method style otherwise follow the teacher's http.Client-per-collaborator
// convention (see pkg/memory/client.go, pkg/llm/ollama/client.go).
package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RecognizeURL is Yandex SpeechKit's synchronous short-audio recognition
// endpoint.
const RecognizeURL = "https://stt.api.cloud.yandex.net/speech/v1/stt:recognize"

const requestTimeout = 15 * time.Second

// SpeechKitTranscriber implements telegram.VoiceTranscriber against Yandex
// SpeechKit, posting raw OGG/Opus audio (Telegram's native voice format)
// and returning the recognized text.
type SpeechKitTranscriber struct {
	apiKey     string
	folderID   string
	lang       string
	httpClient *http.Client

	// recognizeURL defaults to RecognizeURL; overridden in tests to
	// point at a local httptest.Server instead of the real endpoint.
	recognizeURL string
}

// New returns a Transcriber bound to the given API key, folder, and
// recognition language (e.g. "ru-RU", "en-US").
func New(apiKey, folderID, lang string) *SpeechKitTranscriber {
	if lang == "" {
		lang = "ru-RU"
	}
	return &SpeechKitTranscriber{
		apiKey:   apiKey,
		folderID: folderID,
		lang:     lang,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		recognizeURL: RecognizeURL,
	}
}

// Transcribe sends audio (OGG/Opus) to SpeechKit and returns the recognized
// text, or "" if SpeechKit recognized nothing.
func (t *SpeechKitTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	params := url.Values{
		"folderId": {t.folderID},
		"lang":     {t.lang},
		"model":    {"general:rc"},
	}
	reqURL := t.recognizeURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to build speechkit request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+t.apiKey)
	req.Header.Set("Content-Type", "application/ogg")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speechkit request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read speechkit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speechkit returned status %d: %s", resp.StatusCode, string(raw))
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to parse speechkit response: %w", err)
	}
	return result.Result, nil
}
