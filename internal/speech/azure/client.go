// Package azure implements speech recognition and synthesis against the
// Azure AI Speech REST APIs.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/pkg/models"
)

// Sentinel errors for Azure Speech call failures.
var (
	ErrSpeechUnavailable = errors.New("azure speech unreachable")
	ErrSpeechTimeout     = errors.New("azure speech request timeout")
	ErrSpeechAPI         = errors.New("azure speech api error")
)

// Client implements models.Recognizer and models.Synthesizer using the
// fast-transcription and neural TTS endpoints.
type Client struct {
	region string
	apiKey string
	voice  string
	client *http.Client
}

// NewClient creates a new Azure Speech client.
func NewClient(cfg config.AzureConfig, timeout time.Duration) *Client {
	return &Client{
		region: cfg.Region,
		apiKey: cfg.APIKey,
		voice:  cfg.Voice,
		client: &http.Client{Timeout: timeout},
	}
}

// transcribeResponse mirrors the fast-transcription result body. The service
// reports the audio duration itself; that value, not wall-clock time, drives
// usage metering.
type transcribeResponse struct {
	DurationMilliseconds int64 `json:"durationMilliseconds"`
	CombinedPhrases      []struct {
		Text string `json:"text"`
	} `json:"combinedPhrases"`
}

func (c *Client) Transcribe(ctx context.Context, audioURL string) (*models.TranscriptionResult, error) {
	audio, err := c.fetchAudio(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	defPart, err := mw.CreateFormField("definition")
	if err != nil {
		return nil, fmt.Errorf("building transcribe request: %w", err)
	}
	if _, err := defPart.Write([]byte(`{"locales":["en-US"]}`)); err != nil {
		return nil, fmt.Errorf("building transcribe request: %w", err)
	}

	filePart, err := mw.CreateFormFile("audio", "audio")
	if err != nil {
		return nil, fmt.Errorf("building transcribe request: %w", err)
	}
	if _, err := filePart.Write(audio); err != nil {
		return nil, fmt.Errorf("building transcribe request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building transcribe request: %w", err)
	}

	u := fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext/transcriptions:transcribe?api-version=2024-11-15", c.region)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, fmt.Errorf("building transcribe request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSpeechAPI, resp.StatusCode, detail)
	}

	var tr transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decoding transcribe response: %w", err)
	}

	result := &models.TranscriptionResult{DurationMillis: tr.DurationMilliseconds}
	for _, p := range tr.CombinedPhrases {
		result.CombinedPhrases = append(result.CombinedPhrases, p.Text)
	}
	return result, nil
}

// outputFormats maps our format names to Azure output format headers.
var outputFormats = map[string]string{
	"mp3": "audio-24khz-96kbitrate-mono-mp3",
	"wav": "riff-24khz-16bit-mono-pcm",
}

func (c *Client) Synthesize(ctx context.Context, text, voice, format string) ([]byte, error) {
	if voice == "" {
		voice = c.voice
	}
	outputFormat, ok := outputFormats[format]
	if !ok {
		outputFormat = outputFormats["mp3"]
	}

	ssml := fmt.Sprintf(
		`<speak version='1.0' xml:lang='en-US'><voice name='%s'>%s</voice></speak>`,
		voice, escapeXML(text))

	u := fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", c.region)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBufferString(ssml))
	if err != nil {
		return nil, fmt.Errorf("building synthesize request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", outputFormat)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSpeechAPI, resp.StatusCode, detail)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading synthesized audio: %w", err)
	}
	return audio, nil
}

// fetchAudio downloads the source audio from the file service URL.
func (c *Client) fetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building audio fetch request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching audio: status %d", ErrSpeechAPI, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&apos;", `"`, "&quot;")

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrSpeechTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrSpeechTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrSpeechUnavailable, err)
}

var _ models.Recognizer = (*Client)(nil)
var _ models.Synthesizer = (*Client)(nil)
