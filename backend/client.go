package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pauz/creds"
)

// Client talks to the voice assistant endpoints of one backend deployment.
type Client struct {
	baseURL string
	tokens  creds.Provider
	http    *tracedClient
}

func NewClient(baseURL string, tokens creds.Provider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    newTracedClient(),
	}
}

// voiceResponse is the wire shape shared by all three endpoints; fields
// that do not apply to an endpoint are simply absent.
type voiceResponse struct {
	Success           bool   `json:"success"`
	AudioData         string `json:"audio_data"`
	ContentType       string `json:"content_type"`
	Text              string `json:"text"`
	UserTranscription string `json:"user_transcription"`
	AssistantResponse string `json:"assistant_response"`
	Detail            string `json:"detail"`
}

// Welcome fetches the spoken session greeting.
func (c *Client) Welcome(ctx context.Context) (*WelcomeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/voice-assistant/welcome-simple", nil)
	if err != nil {
		return nil, err
	}

	vr, metrics, err := c.send(req)
	if err != nil {
		return nil, err
	}

	audio, err := decodeAudio(vr.AudioData)
	if err != nil {
		return nil, err
	}
	return &WelcomeResult{
		Text:    vr.Text,
		Audio:   audio,
		MIME:    vr.ContentType,
		Metrics: metrics,
	}, nil
}

// VoiceQuery uploads one recorded clip and returns the assistant's answer.
// The backend transcribes the clip; its transcription is authoritative for
// what the user said.
func (c *Client) VoiceQuery(ctx context.Context, audio []byte, mimeType string) (*QueryResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", "recording"+extensionFor(mimeType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/voice-assistant/voice-query", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	vr, metrics, err := c.send(req)
	if err != nil {
		return nil, err
	}

	respAudio, err := decodeAudio(vr.AudioData)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Transcript: vr.UserTranscription,
		Response:   vr.AssistantResponse,
		Audio:      respAudio,
		MIME:       vr.ContentType,
		Metrics:    metrics,
	}, nil
}

// Guidance asks a typed question, bypassing transcription. The journal
// context string is optional and gives the assistant something to ground
// its answer in.
func (c *Client) Guidance(ctx context.Context, question, journalContext string) (*QueryResult, error) {
	payload, err := json.Marshal(struct {
		Question string `json:"question"`
		Context  string `json:"context,omitempty"`
	}{Question: question, Context: journalContext})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/voice-assistant/guidance", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	vr, metrics, err := c.send(req)
	if err != nil {
		return nil, err
	}

	audio, err := decodeAudio(vr.AudioData)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Response: vr.Text,
		Audio:    audio,
		MIME:     vr.ContentType,
		Metrics:  metrics,
	}, nil
}

func (c *Client) send(req *http.Request) (*voiceResponse, *NetworkMetrics, error) {
	// A missing token is not a local error; the backend answers 401.
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &ServiceError{
			Status: strconv.Itoa(resp.StatusCode),
			Detail: detailFromBody(resp.Body),
		}
	}

	var vr voiceResponse
	if err := json.Unmarshal(resp.Body, &vr); err != nil {
		return nil, nil, &ServiceError{
			Status: strconv.Itoa(resp.StatusCode),
			Detail: "malformed response: " + err.Error(),
		}
	}
	if !vr.Success {
		return nil, nil, &ServiceError{
			Status: strconv.Itoa(resp.StatusCode),
			Detail: vr.Detail,
		}
	}
	return &vr, resp.Metrics, nil
}

func classifyTransportError(err error) error {
	status := "network"
	var uerr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &uerr) && uerr.Timeout()) {
		status = "timeout"
	}
	return &ServiceError{Status: status, Detail: err.Error()}
}

func detailFromBody(body []byte) string {
	var vr voiceResponse
	if json.Unmarshal(body, &vr) == nil && vr.Detail != "" {
		return vr.Detail
	}
	return strings.TrimSpace(string(body))
}

func decodeAudio(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	audio, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding audio payload: %w", err)
	}
	return audio, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/flac":
		return ".flac"
	case "audio/webm":
		return ".webm"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".bin"
	}
}
