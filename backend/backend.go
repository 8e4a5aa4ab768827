// Package backend is the HTTP client for the journaling server's voice
// assistant endpoints: welcome audio, voice queries and text guidance.
// Responses carry the spoken audio base64-encoded next to its text.
package backend

import (
	"fmt"
	"time"
)

// RequestTimeout is the client-side deadline for one assistant round-trip.
// The backend runs transcription and speech synthesis per request, so this
// is generous; anything beyond it surfaces as a "timeout" ServiceError.
const RequestTimeout = 30 * time.Second

// ServiceError is any failed assistant round-trip. Status holds the HTTP
// status code as a string, or "network" when no response arrived, or
// "timeout" when the client-side deadline expired.
type ServiceError struct {
	Status string
	Detail string
}

func (e *ServiceError) Error() string {
	if e.Detail == "" {
		return "assistant service error (" + e.Status + ")"
	}
	return fmt.Sprintf("assistant service error (%s): %s", e.Status, e.Detail)
}

// WelcomeResult is the spoken greeting played when a session opens.
type WelcomeResult struct {
	Text    string
	Audio   []byte
	MIME    string
	Metrics *NetworkMetrics
}

// QueryResult is one assistant answer. Transcript is what the backend
// heard the user say; it is empty for text queries.
type QueryResult struct {
	Transcript string
	Response   string
	Audio      []byte
	MIME       string
	Metrics    *NetworkMetrics
}
