// Package speech turns recorded learner audio into lowercase transcripts.
//
// Recognition engines are external services behind the Recognizer interface.
// An empty transcript is a valid result meaning nothing was heard.
package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedAudio is returned when audio cannot be parsed as a waveform.
var ErrMalformedAudio = errors.New("malformed audio")

// Recognizer transcribes WAV audio.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, sampleRate int) (string, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, audio []byte, sampleRate int) (string, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, audio []byte, sampleRate int) (string, error) {
	return f(ctx, audio, sampleRate)
}

// WAV is a decoded RIFF/WAVE header and its sample data.
type WAV struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	Data          []byte
}

// Duration returns the playback length of the sample data.
func (w WAV) Duration() time.Duration {
	frame := w.Channels * w.BitsPerSample / 8
	if frame == 0 || w.SampleRate == 0 {
		return 0
	}
	frames := len(w.Data) / frame
	return time.Duration(frames) * time.Second / time.Duration(w.SampleRate)
}

const (
	formatPCM   = 1
	formatFloat = 3
)

// DecodeWAV parses a RIFF/WAVE container holding PCM or float samples.
func DecodeWAV(data []byte) (WAV, error) {
	var w WAV
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return w, fmt.Errorf("%w: not a RIFF/WAVE file", ErrMalformedAudio)
	}
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			if id == "data" && haveFmt {
				// Streamed recordings often leave the data size unset.
				size = len(data) - body
			} else {
				return w, fmt.Errorf("%w: chunk %q overruns file", ErrMalformedAudio, id)
			}
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return w, fmt.Errorf("%w: short fmt chunk", ErrMalformedAudio)
			}
			w.Format = binary.LittleEndian.Uint16(data[body : body+2])
			w.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			w.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return w, fmt.Errorf("%w: data before fmt chunk", ErrMalformedAudio)
			}
			w.Data = data[body : body+size]
			return w, w.validate()
		}
		// Chunks are word aligned.
		pos = body + size + size%2
	}
	return w, fmt.Errorf("%w: no data chunk", ErrMalformedAudio)
}

func (w WAV) validate() error {
	if w.Format != formatPCM && w.Format != formatFloat && w.Format != 0xFFFE {
		return fmt.Errorf("%w: unsupported format %d", ErrMalformedAudio, w.Format)
	}
	if w.Channels <= 0 || w.SampleRate <= 0 {
		return fmt.Errorf("%w: invalid channels or sample rate", ErrMalformedAudio)
	}
	switch w.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrMalformedAudio, w.BitsPerSample)
	}
	return nil
}

// EncodeWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	buf := make([]byte, 44+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// Transcribe validates audio, runs rec under timeout and returns the
// lowercased, trimmed transcript. Malformed audio yields "" and an error
// wrapping ErrMalformedAudio; callers score it as silence.
func Transcribe(ctx context.Context, rec Recognizer, audio []byte, timeout time.Duration) (string, error) {
	w, err := DecodeWAV(audio)
	if err != nil {
		return "", err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := rec.Recognize(ctx, audio, w.SampleRate)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(text)), nil
}
