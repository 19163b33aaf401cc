// Package wire defines the JSON message envelopes exchanged over the
// /ws/{session_id} connection, and the LaTeX renderer's HTTP request/response
// bodies. Every inbound and outbound message shares the Envelope shape; Type
// selects how Payload is interpreted.
package wire

import "encoding/json"

// Envelope is the outer shape of every message on the wire, in both
// directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server message types.
const (
	TypeSessionStart  = "session_start"
	TypeAudioStart    = "audio_start"
	TypeAudioData     = "audio_data"
	TypeAudioStop     = "audio_stop"
	TypeTranscript    = "transcript"
	TypeBoardSnapshot = "board_snapshot"
	TypeBargeIn       = "barge_in"
)

// Server -> client message types.
const (
	TypeConnected         = "connected"
	TypeSpeechText        = "speech_text"
	TypeAudioChunk        = "audio_chunk"
	TypeStrokes           = "strokes"
	TypeBoardAction       = "board_action"
	TypeTranscriptInterim = "transcript_interim"
	TypeStateUpdate       = "state_update"
	TypeScrollBoard       = "scroll_board"
	TypeError             = "error"
)

// SessionStart is the first client message, opening a tutoring session.
type SessionStart struct {
	Subject     string `json:"subject"`
	BoardWidth  int    `json:"board_width"`
	BoardHeight int    `json:"board_height"`
}

// AudioStart marks the beginning of a listening period.
type AudioStart struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
}

// AudioData carries one chunk of base64-encoded opus-in-webm audio.
type AudioData struct {
	AudioBase64 string `json:"data"`
}

// AudioStop marks the end of a listening period.
type AudioStop struct{}

// ClientTranscript lets the client supply an out-of-band transcript (e.g.
// text-typed input) instead of audio.
type ClientTranscript struct {
	Text string `json:"text"`
}

// BoardSnapshot reports the current rendered board image and the deepest Y
// the student has drawn to.
type BoardSnapshot struct {
	ImageBase64 string `json:"image_base64"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	MaxDrawnY   int    `json:"student_max_y"`
}

// BargeIn is the client's explicit request to interrupt the tutor.
type BargeIn struct{}

// Connected is sent once the session is established.
type Connected struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SpeechText carries the tutor's spoken sentence, always emitted before the
// first AudioChunk of the same epoch.
type SpeechText struct {
	Text  string `json:"text"`
	Epoch int64  `json:"epoch"`
}

// AudioChunk carries one chunk of base64-encoded tutor speech.
type AudioChunk struct {
	AudioBase64 string `json:"data"`
	Epoch       int64  `json:"epoch"`
}

// Strokes carries one batch of handwriting polylines to animate onto the
// board.
type Strokes struct {
	Strokes        []Stroke `json:"strokes"`
	AnimationSpeed float64  `json:"animation_speed"`
	Epoch          int64    `json:"epoch"`
}

// Stroke is a single polyline with per-point pressure, for natural-looking
// handwriting animation.
type Stroke struct {
	Points []StrokePoint `json:"points"`
	Color  string        `json:"color"`
	Width  float64       `json:"width"`
}

// StrokePoint is one sample along a Stroke's polyline.
type StrokePoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Pressure float64 `json:"pressure"`
}

// BoardAction carries a single non-handwriting board mutation (underline or
// clear); Write actions are carried as Strokes instead.
type BoardAction struct {
	Type  string `json:"type"` // "underline" | "clear"
	Area  *Rect  `json:"area,omitempty"`
	Color string `json:"color,omitempty"`
	Epoch int64  `json:"epoch"`
}

// Rect is an axis-aligned board region, used by underline/clear actions.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// TranscriptInterim carries a live partial transcript of the student's
// speech, for on-screen captioning.
type TranscriptInterim struct {
	Text string `json:"text"`
}

// StateUpdate reports the tutor's current pedagogical mode and whether it is
// now waiting on the student before continuing.
type StateUpdate struct {
	Mode           string `json:"tutor_state"`
	WaitForStudent bool   `json:"wait_for_student"`
}

// ScrollBoard instructs the client to scroll the board viewport so the
// tutor cursor remains visible, without implying a clear.
type ScrollBoard struct {
	ToY float64 `json:"to_y"`
}

// ServerBargeIn notifies the client that the tutor's prior output has been
// interrupted and superseded.
type ServerBargeIn struct {
	Epoch int64 `json:"epoch"`
}

// Error is a user-visible failure notice (§7: failures that leave the
// session usable are surfaced, not silently swallowed).
type Error struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// LaTeXRenderRequest is the body of POST /mathjax.
type LaTeXRenderRequest struct {
	LaTeX   string `json:"latex"`
	Display bool   `json:"display"`
}

// LaTeXHealthResponse is the body of GET /health on the LaTeX renderer.
type LaTeXHealthResponse struct {
	Status string `json:"status"`
}
