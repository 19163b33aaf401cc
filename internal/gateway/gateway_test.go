package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/HassanFazal97/professor/internal/config"
	"github.com/HassanFazal97/professor/internal/wire"
	"github.com/HassanFazal97/professor/pkg/provider/llm"
	llmmock "github.com/HassanFazal97/professor/pkg/provider/llm/mock"
	sttmock "github.com/HassanFazal97/professor/pkg/provider/stt/mock"
	ttsmock "github.com/HassanFazal97/professor/pkg/provider/tts/mock"
)

func testConfig() config.Config {
	return config.Config{
		Board: config.BoardConfig{
			WriteX:             10,
			WriteY0:            20,
			MaxHeight:          1000,
			MarginBelowStudent: 30,
			InterlineMargin:    8,
		},
		BargeIn: config.BargeInConfig{
			AutoBargeDebounce: 2 * time.Second,
			StartGuard:        400 * time.Millisecond,
			ConfirmWindow:     1500 * time.Millisecond,
		},
		Scheduler: config.SchedulerConfig{
			TickPeriod:       50 * time.Millisecond,
			SilenceThreshold: time.Hour,
			MinInterval:      time.Hour,
		},
		LLM: config.LLMConfig{Timeout: time.Second},
		TTS: config.TTSConfig{VoiceID: "v1"},
	}
}

func newTestServer(t *testing.T, llmResp *llm.CompletionResponse) (*httptest.Server, *llmmock.Provider) {
	t.Helper()
	llmProvider := &llmmock.Provider{CompleteResponse: llmResp}
	providers := Providers{
		LLM: llmProvider,
		STT: &sttmock.Provider{},
		TTS: &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("pcm")}},
	}
	h := New(testConfig(), providers, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, llmProvider
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) wire.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env wire.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env wire.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
}

func TestServeHTTP_SendsConnectedOnOpen(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	conn := dial(t, srv, "/ws/abc123")

	env := readEnvelope(t, conn, time.Second)
	require.Equal(t, wire.TypeConnected, env.Type)

	var payload wire.Connected
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Equal(t, "abc123", payload.SessionID)
}

func TestServeHTTP_TranscriptProducesSpeechText(t *testing.T) {
	srv, _ := newTestServer(t, &llm.CompletionResponse{
		Content: `{"speech":"2 plus 2 is 4.","mode":"guiding","wait_for_student":false,"actions":[]}`,
	})
	conn := dial(t, srv, "/ws/s1")

	_ = readEnvelope(t, conn, time.Second) // connected

	writeEnvelope(t, conn, wire.Envelope{
		Type:    wire.TypeTranscript,
		Payload: marshal(t, wire.ClientTranscript{Text: "What is 2+2?"}),
	})

	var speech wire.SpeechText
	for i := 0; i < 5; i++ {
		env := readEnvelope(t, conn, 2*time.Second)
		if env.Type == wire.TypeSpeechText {
			require.NoError(t, json.Unmarshal(env.Payload, &speech))
			break
		}
	}
	require.Equal(t, "2 plus 2 is 4.", speech.Text)
}

func TestServeHTTP_MissingSessionIDRejected(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/ws/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
