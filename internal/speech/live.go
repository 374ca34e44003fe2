package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

const probeTimeout = 3 * time.Second

// LiveRecognizer streams microphone audio to a websocket transcription
// engine in single-utterance mode and resolves with the final transcript.
type LiveRecognizer struct {
	URL      string
	Language string
	Source   Source
	Dialer   *websocket.Dialer
}

func NewLiveRecognizer(url, language string, src Source) *LiveRecognizer {
	return &LiveRecognizer{URL: url, Language: language, Source: src}
}

func (l *LiveRecognizer) Name() string { return ProviderLive }

func (l *LiveRecognizer) dialer() *websocket.Dialer {
	if l.Dialer != nil {
		return l.Dialer
	}
	return websocket.DefaultDialer
}

// Probe dials the engine and disconnects. An unreachable engine means this
// tier is skipped entirely rather than failing mid-session.
func (l *LiveRecognizer) Probe(ctx context.Context) error {
	if l.URL == "" {
		return errors.New("no recognition endpoint configured")
	}
	if l.Source == nil {
		return errors.New("no audio source configured")
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	conn, _, err := l.dialer().DialContext(ctx, l.URL, nil)
	if err != nil {
		return fmt.Errorf("dial recognition engine: %w", err)
	}
	return conn.Close()
}

// startFrame configures the engine: one utterance, no interim results, fixed
// target language.
type startFrame struct {
	Type            string `json:"type"`
	Language        string `json:"language"`
	SingleUtterance bool   `json:"single_utterance"`
	InterimResults  bool   `json:"interim_results"`
}

type engineFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Start runs one utterance to completion. Recoverable engine errors resolve
// the session with a diagnostic notice and no transcript; hard errors return
// an error so the pipeline falls through to manual capture.
func (l *LiveRecognizer) Start(ctx context.Context, state *SessionState) (Result, error) {
	conn, _, err := l.dialer().DialContext(ctx, l.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("dial recognition engine: %w", err)
	}
	defer conn.Close()

	stream, err := l.Source.Open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("open audio source: %w", err)
	}
	defer stream.Close()

	if err := conn.WriteJSON(startFrame{
		Type:            "start",
		Language:        l.Language,
		SingleUtterance: true,
		InterimResults:  false,
	}); err != nil {
		return Result{}, fmt.Errorf("send start frame: %w", err)
	}

	state.setRecording(true)
	defer state.setRecording(false)

	// The session ends when the engine answers or the caller cancels;
	// closing the connection unblocks both the pump and the read loop.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go l.pump(ctx, conn, stream, state)

	for {
		var frame engineFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return Result{Notice: "Recording stopped."}, nil
			}
			return Result{}, fmt.Errorf("read engine frame: %w", err)
		}
		switch frame.Type {
		case "transcript":
			if !frame.Final {
				continue
			}
			state.setRecording(false)
			state.setProcessing(true)
			defer state.setProcessing(false)
			return Result{Transcript: frame.Text, Transcribed: frame.Text != ""}, nil
		case "error":
			if recoverableEngineError(frame.Code) {
				return Result{Notice: engineNotice(frame.Code)}, nil
			}
			return Result{}, fmt.Errorf("engine error %s: %s", frame.Code, frame.Message)
		}
	}
}

// pump streams audio chunks to the engine until the source ends or the
// session is cancelled, then signals end of audio.
func (l *LiveRecognizer) pump(ctx context.Context, conn *websocket.Conn, stream io.Reader, state *SessionState) {
	chunk := make([]byte, chunkSize)
	for ctx.Err() == nil {
		n, err := stream.Read(chunk)
		if n > 0 {
			state.SetVolume(volumeOf(chunk[:n]))
			if werr := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			break
		}
	}
	end, _ := json.Marshal(engineFrame{Type: "stop"})
	conn.WriteMessage(websocket.TextMessage, end)
}

// recoverableEngineError classifies engine failures that resolve the session
// instead of falling through to manual capture.
func recoverableEngineError(code string) bool {
	switch code {
	case "no_speech", "audio_busy", "network":
		return true
	}
	return false
}

func engineNotice(code string) string {
	switch code {
	case "no_speech":
		return "No speech was detected. Please try again."
	case "audio_busy":
		return "The microphone is in use by another application."
	case "network":
		return "The transcription service connection dropped. Please try again."
	default:
		return "Speech recognition failed. Please try again."
	}
}
