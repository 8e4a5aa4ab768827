package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pauz/creds"
)

func TestWelcome(t *testing.T) {
	audio := []byte("fake-mp3-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/voice-assistant/welcome-simple" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":      true,
			"audio_data":   base64.StdEncoding.EncodeToString(audio),
			"content_type": "audio/mpeg",
			"text":         "Good evening! Ready to journal?",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, creds.Static("tok123"))
	res, err := c.Welcome(context.Background())
	if err != nil {
		t.Fatalf("Welcome: %v", err)
	}
	if res.Text != "Good evening! Ready to journal?" {
		t.Errorf("Text = %q", res.Text)
	}
	if string(res.Audio) != string(audio) {
		t.Error("audio bytes mismatch")
	}
	if res.MIME != "audio/mpeg" {
		t.Errorf("MIME = %q", res.MIME)
	}
	if res.Metrics == nil {
		t.Error("expected network metrics")
	}
}

func TestVoiceQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice-assistant/voice-query" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart: %v", err)
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("form file audio: %v", err)
		}
		defer file.Close()
		if header.Filename != "recording.flac" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":            true,
			"user_transcription": "hello",
			"assistant_response": "hi there",
			"audio_data":         base64.StdEncoding.EncodeToString([]byte("voice")),
			"content_type":       "audio/mpeg",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, creds.Static("tok"))
	res, err := c.VoiceQuery(context.Background(), []byte("fLaC...."), "audio/flac")
	if err != nil {
		t.Fatalf("VoiceQuery: %v", err)
	}
	if res.Transcript != "hello" || res.Response != "hi there" {
		t.Errorf("got %q / %q", res.Transcript, res.Response)
	}
	if res.MIME != "audio/mpeg" {
		t.Errorf("MIME = %q", res.MIME)
	}
}

func TestGuidance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice-assistant/guidance" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Question string `json:"question"`
			Context  string `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Question != "how do I start?" || req.Context != "evening entry" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"text":    "Try writing about your day.",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, creds.Static(""))
	res, err := c.Guidance(context.Background(), "how do I start?", "evening entry")
	if err != nil {
		t.Fatalf("Guidance: %v", err)
	}
	if res.Response != "Try writing about your day." {
		t.Errorf("Response = %q", res.Response)
	}
	if len(res.Audio) != 0 {
		t.Error("expected no audio")
	}
}

func TestNoTokenOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("Authorization header sent with empty token")
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, creds.Static(""))
	if _, err := c.Welcome(context.Background()); err != nil {
		t.Fatalf("Welcome: %v", err)
	}
}

func TestServiceErrorStatuses(t *testing.T) {
	for _, tt := range []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus string
		wantDetail string
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
			},
			wantStatus: "500",
			wantDetail: "boom",
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantStatus: "401",
		},
		{
			name: "success false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"detail":  "tts unavailable",
				})
			},
			wantStatus: "200",
			wantDetail: "tts unavailable",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(srv.URL, creds.Static("tok"))
			_, err := c.Welcome(context.Background())

			var serr *ServiceError
			if !errors.As(err, &serr) {
				t.Fatalf("err = %v, want *ServiceError", err)
			}
			if serr.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", serr.Status, tt.wantStatus)
			}
			if tt.wantDetail != "" && serr.Detail != tt.wantDetail {
				t.Errorf("Detail = %q, want %q", serr.Detail, tt.wantDetail)
			}
		})
	}
}

func TestNetworkErrorStatus(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, creds.Static("tok"))
	_, err := c.Welcome(context.Background())

	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *ServiceError", err)
	}
	if serr.Status != "network" {
		t.Errorf("Status = %q, want network", serr.Status)
	}
}

func TestTimeoutStatus(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, creds.Static("tok"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Welcome(ctx)

	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *ServiceError", err)
	}
	if serr.Status != "timeout" {
		t.Errorf("Status = %q, want timeout", serr.Status)
	}
}

func TestBadAudioPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"audio_data": "!!! not base64 !!!",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, creds.Static("tok"))
	if _, err := c.Welcome(context.Background()); err == nil {
		t.Fatal("expected error for invalid base64 audio")
	}
}
