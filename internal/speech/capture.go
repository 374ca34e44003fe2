package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"time"
)

// captureLimit bounds the recording-only fallback: the stream auto-stops
// after this long if the user does not stop it first.
const captureLimit = 10 * time.Second

const chunkSize = 4096

// Source opens the microphone. Open must return a stream of 16-bit
// little-endian PCM; Close on the returned stream releases the device.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ManualCapture is the last transcription-free tier: it buffers raw audio for
// at most captureLimit and resolves without a transcript. It is a
// recording-only fallback, not a second transcription engine.
type ManualCapture struct {
	Source Source
	Limit  time.Duration
}

func NewManualCapture(src Source) *ManualCapture {
	return &ManualCapture{Source: src, Limit: captureLimit}
}

func (m *ManualCapture) Name() string { return ProviderManual }

func (m *ManualCapture) Probe(ctx context.Context) error {
	if m.Source == nil {
		return errors.New("no audio source configured")
	}
	return nil
}

// Start buffers audio until the session is stopped, the stream ends, or the
// time ceiling fires. The device is released on every exit path.
func (m *ManualCapture) Start(ctx context.Context, state *SessionState) (Result, error) {
	limit := m.Limit
	if limit <= 0 {
		limit = captureLimit
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	stream, err := m.Source.Open(ctx)
	if err != nil {
		return Result{}, err
	}
	defer stream.Close()

	// A silent device can hold Read open indefinitely; closing the stream
	// is the only reliable way to unblock it when the ceiling fires or the
	// session is stopped.
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	state.setRecording(true)
	defer state.setRecording(false)

	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			break
		}
		n, err := stream.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			state.SetVolume(volumeOf(chunk[:n]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
			return Result{}, err
		}
	}
	return Result{
		Transcribed: false,
		Notice:      "Recording saved. Automatic transcription is not available; please type your request.",
		Audio:       buf.Bytes(),
	}, nil
}

// volumeOf computes an RMS level in 0..1 from a 16-bit little-endian PCM
// chunk, for UI feedback only.
func volumeOf(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}
	var sum float64
	samples := len(chunk) / 2
	for i := 0; i+1 < len(chunk); i += 2 {
		s := int16(uint16(chunk[i]) | uint16(chunk[i+1])<<8)
		f := float64(s) / math.MaxInt16
		sum += f * f
	}
	return math.Sqrt(sum / float64(samples))
}
