// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "wakeword/internal/log"
)

// pcmChunkFrames is how many frames each decode pass pulls from the file.
const pcmChunkFrames = 4096

// WAVSource reads a WAV file as a sequence of fixed-size mono int16
// frames. Multi-channel files are downmixed by averaging and other bit
// depths are rescaled to 16-bit. The final partial frame is zero-padded;
// the Read after it returns io.EOF.
type WAVSource struct {
	f       *os.File
	decoder *wav.Decoder
	pcm     *audio.IntBuffer

	queueBuf []int16
	queue    []int16 // unread view into queueBuf

	channels int
	shift    int // bit depth delta relative to 16
	eof      bool
	drained  bool
}

// OpenWAV opens path for frame reading. A sample rate other than
// expectedRate is only warned about; the caller decides whether detection
// quality at the wrong rate is acceptable.
func OpenWAV(path string, expectedRate int) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open wav: %w", err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("capture: %s is not a valid WAV file", path)
	}

	if int(decoder.SampleRate) != expectedRate {
		applog.Warnf("capture: %s has sample rate %d, pipeline expects %d; detection quality will suffer",
			path, decoder.SampleRate, expectedRate)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		channels = 1
	}

	s := &WAVSource{
		f:       f,
		decoder: decoder,
		pcm: &audio.IntBuffer{
			Data: make([]int, pcmChunkFrames*channels),
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  int(decoder.SampleRate),
			},
		},
		channels: channels,
		shift:    int(decoder.BitDepth) - 16,
	}
	applog.Infof("capture: wav open (path=%s rate=%d channels=%d depth=%d)",
		path, decoder.SampleRate, channels, decoder.BitDepth)
	return s, nil
}

// Read fills frame with the next samples from the file. The last partial
// frame is padded with silence; once the file is exhausted Read returns
// io.EOF.
func (s *WAVSource) Read(frame []int16) error {
	if s.drained {
		return io.EOF
	}

	filled := 0
	for filled < len(frame) {
		if len(s.queue) == 0 {
			err := s.refill()
			if err == io.EOF {
				if filled == 0 {
					s.drained = true
					return io.EOF
				}
				for i := filled; i < len(frame); i++ {
					frame[i] = 0
				}
				s.drained = true
				return nil
			}
			if err != nil {
				return err
			}
		}
		n := copy(frame[filled:], s.queue)
		s.queue = s.queue[n:]
		filled += n
	}
	return nil
}

// refill decodes the next PCM chunk and converts it to mono int16.
func (s *WAVSource) refill() error {
	if s.eof {
		return io.EOF
	}

	n, err := s.decoder.PCMBuffer(s.pcm)
	if err != nil {
		return fmt.Errorf("capture: decode wav: %w", err)
	}
	if n == 0 {
		s.eof = true
		return io.EOF
	}

	samples := s.pcm.Data[:n]
	s.queueBuf = s.queueBuf[:0]
	for i := 0; i+s.channels <= len(samples); i += s.channels {
		sum := 0
		for c := 0; c < s.channels; c++ {
			sum += samples[i+c]
		}
		v := sum / s.channels
		if s.shift > 0 {
			v >>= s.shift
		} else if s.shift < 0 {
			v <<= -s.shift
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		s.queueBuf = append(s.queueBuf, int16(v))
	}
	s.queue = s.queueBuf
	return nil
}

// Close closes the underlying file.
func (s *WAVSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

var _ Source = (*WAVSource)(nil)
