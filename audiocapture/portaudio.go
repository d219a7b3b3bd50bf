package audiocapture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gordonklaus/portaudio"
)

// portAudio is the PortAudio backend. PortAudio keeps process-wide state,
// so init and terminate are owned by the Engine lifecycle.
type portAudio struct{}

func (portAudio) init() error      { return portaudio.Initialize() }
func (portAudio) terminate() error { return portaudio.Terminate() }

func (portAudio) devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var def *portaudio.DeviceInfo
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		def = d
	}

	var out []Device
	for _, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			Index:      info.Index,
			Name:       info.Name,
			Channels:   info.MaxInputChannels,
			SampleRate: info.DefaultSampleRate,
			Default:    def != nil && def.Index == info.Index,
		})
	}
	return out, nil
}

func (portAudio) open(cfg Config) (inputStream, error) {
	dev, err := inputDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	if dev.MaxInputChannels < cfg.Format.Channels {
		return nil, fmt.Errorf("device %q has %d input channels, need %d",
			dev.Name, dev.MaxInputChannels, cfg.Format.Channels)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Format.Channels
	params.SampleRate = float64(cfg.Format.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	n := cfg.FramesPerBuffer * cfg.Format.Channels
	s := &paStream{out: make([]byte, n*cfg.Format.Sample.BytesPerSample())}

	switch cfg.Format.Sample {
	case Int16:
		buf := make([]int16, n)
		s.fill = func(out []byte) {
			for i, v := range buf {
				binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
			}
		}
		s.stream, err = portaudio.OpenStream(params, buf)
	case Int32:
		buf := make([]int32, n)
		s.fill = func(out []byte) {
			for i, v := range buf {
				binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
			}
		}
		s.stream, err = portaudio.OpenStream(params, buf)
	case Float32:
		buf := make([]float32, n)
		s.fill = func(out []byte) {
			for i, v := range buf {
				binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
			}
		}
		s.stream, err = portaudio.OpenStream(params, buf)
	case Uint8:
		buf := make([]uint8, n)
		s.fill = func(out []byte) { copy(out, buf) }
		s.stream, err = portaudio.OpenStream(params, buf)
	default:
		return nil, fmt.Errorf("unsupported sample format %v", cfg.Format.Sample)
	}
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", dev.Name, err)
	}
	return s, nil
}

func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return dev, nil
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for _, info := range infos {
		if info.Name == name && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}

// paStream adapts a blocking PortAudio stream to inputStream. The returned
// slice is reused across reads; the engine copies it.
type paStream struct {
	stream *portaudio.Stream
	fill   func(out []byte)
	out    []byte
}

func (s *paStream) Start() error { return s.stream.Start() }
func (s *paStream) Stop() error  { return s.stream.Stop() }
func (s *paStream) Close() error { return s.stream.Close() }

func (s *paStream) Read() ([]byte, error) {
	if err := s.stream.Read(); err != nil {
		// An overflow still delivers a full buffer; keep it.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, err
		}
	}
	s.fill(s.out)
	return s.out, nil
}
