package audiocapture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// ErrInvalidWAV is returned when a buffer is not a readable WAV file.
var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeWAV wraps interleaved PCM in a WAV container whose header carries the
// format's sample rate, channel count and bit depth. Float32 audio is tagged
// as IEEE float.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	audioFormat := wavFormatPCM
	if f.Sample == Float32 {
		audioFormat = wavFormatFloat
	}

	out := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(out, f.SampleRate, f.Sample.BitDepth(), f.Channels, audioFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           decodeSamples(pcm, f.Sample),
		SourceBitDepth: f.Sample.BitDepth(),
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	data, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, fmt.Errorf("read wav buffer: %w", err)
	}
	return data, nil
}

// DecodeWAV extracts the interleaved PCM and format from a WAV container
// produced by EncodeWAV.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("read wav samples: %w", err)
	}

	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	switch {
	case dec.WavAudioFormat == wavFormatFloat && dec.BitDepth == 32:
		f.Sample = Float32
	case dec.BitDepth == 16:
		f.Sample = Int16
	case dec.BitDepth == 32:
		f.Sample = Int32
	case dec.BitDepth == 8:
		f.Sample = Uint8
	default:
		return nil, Format{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, dec.BitDepth)
	}
	return encodeSamples(buf.Data, f.Sample), f, nil
}

// WAVDuration returns the duration of the data chunk declared by a WAV
// header.
func WAVDuration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, ErrInvalidWAV
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	byteRate := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if byteRate == 0 {
		return 0, fmt.Errorf("%w: zero byte rate", ErrInvalidWAV)
	}
	return time.Duration(dec.PCMLen()) * time.Second / time.Duration(byteRate), nil
}
