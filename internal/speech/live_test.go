package speech_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khidma/internal/speech"
)

type wireFrame struct {
	Type            string `json:"type"`
	Language        string `json:"language,omitempty"`
	SingleUtterance bool   `json:"single_utterance,omitempty"`
	InterimResults  bool   `json:"interim_results,omitempty"`
	Text            string `json:"text,omitempty"`
	Final           bool   `json:"final,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// fakeEngine runs a one-utterance recognition endpoint whose answer is
// scripted per connection.
func fakeEngine(t *testing.T, respond func(t *testing.T, conn *websocket.Conn, start wireFrame)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var start wireFrame
		if err := conn.ReadJSON(&start); err != nil {
			return
		}
		respond(t, conn, start)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drainAudio consumes frames until the client signals end of audio.
func drainAudio(conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage {
			var frame wireFrame
			if json.Unmarshal(data, &frame) == nil && frame.Type == "stop" {
				return
			}
		}
	}
}

func TestLiveRecognizerTranscript(t *testing.T) {
	url := fakeEngine(t, func(t *testing.T, conn *websocket.Conn, start wireFrame) {
		assert.Equal(t, "start", start.Type)
		assert.Equal(t, "ar-SA", start.Language)
		assert.True(t, start.SingleUtterance)
		assert.False(t, start.InterimResults)
		drainAudio(conn)
		conn.WriteJSON(wireFrame{Type: "transcript", Text: "جدد الإقامة", Final: true})
	})
	rec := speech.NewLiveRecognizer(url, "ar-SA", &fakeSource{data: []byte{0x00, 0x10, 0x00, 0x20}})
	state := &speech.SessionState{}

	require.NoError(t, rec.Probe(context.Background()))
	res, err := rec.Start(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, res.Transcribed)
	assert.Equal(t, "جدد الإقامة", res.Transcript)
}

func TestLiveRecognizerIgnoresInterimFrames(t *testing.T) {
	url := fakeEngine(t, func(t *testing.T, conn *websocket.Conn, start wireFrame) {
		drainAudio(conn)
		conn.WriteJSON(wireFrame{Type: "transcript", Text: "partial", Final: false})
		conn.WriteJSON(wireFrame{Type: "transcript", Text: "complete sentence", Final: true})
	})
	rec := speech.NewLiveRecognizer(url, "ar-SA", &fakeSource{data: []byte{0x00, 0x10}})

	res, err := rec.Start(context.Background(), &speech.SessionState{})
	require.NoError(t, err)
	assert.Equal(t, "complete sentence", res.Transcript)
}

func TestLiveRecognizerEmptyFinalIsNotTranscribed(t *testing.T) {
	url := fakeEngine(t, func(t *testing.T, conn *websocket.Conn, start wireFrame) {
		drainAudio(conn)
		conn.WriteJSON(wireFrame{Type: "transcript", Text: "", Final: true})
	})
	rec := speech.NewLiveRecognizer(url, "ar-SA", &fakeSource{data: []byte{0x00, 0x10}})

	res, err := rec.Start(context.Background(), &speech.SessionState{})
	require.NoError(t, err)
	assert.False(t, res.Transcribed)
}

func TestLiveRecognizerRecoverableError(t *testing.T) {
	url := fakeEngine(t, func(t *testing.T, conn *websocket.Conn, start wireFrame) {
		drainAudio(conn)
		conn.WriteJSON(wireFrame{Type: "error", Code: "no_speech"})
	})
	rec := speech.NewLiveRecognizer(url, "ar-SA", &fakeSource{data: []byte{0x00, 0x10}})

	// A recoverable failure resolves the session; it must not fall through
	// to the recording tier.
	res, err := rec.Start(context.Background(), &speech.SessionState{})
	require.NoError(t, err)
	assert.False(t, res.Transcribed)
	assert.NotEmpty(t, res.Notice)
}

func TestLiveRecognizerHardError(t *testing.T) {
	url := fakeEngine(t, func(t *testing.T, conn *websocket.Conn, start wireFrame) {
		drainAudio(conn)
		conn.WriteJSON(wireFrame{Type: "error", Code: "internal", Message: "engine crashed"})
	})
	rec := speech.NewLiveRecognizer(url, "ar-SA", &fakeSource{data: []byte{0x00, 0x10}})

	_, err := rec.Start(context.Background(), &speech.SessionState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine crashed")
}

func TestLiveRecognizerProbe(t *testing.T) {
	rec := speech.NewLiveRecognizer("", "ar-SA", &fakeSource{})
	assert.Error(t, rec.Probe(context.Background()), "missing endpoint")

	rec = speech.NewLiveRecognizer("ws://127.0.0.1:1/ws", "ar-SA", nil)
	assert.Error(t, rec.Probe(context.Background()), "missing source")

	rec = speech.NewLiveRecognizer("ws://127.0.0.1:1/ws", "ar-SA", &fakeSource{})
	assert.Error(t, rec.Probe(context.Background()), "unreachable engine")
}
