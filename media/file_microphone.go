package media

import (
	"context"
	"io"
	"sync"
	"time"

	"gridlink/utils/audio"
)

// FileMicrophone plays an audio file into the capture pipeline at real-time
// pace. After the file is exhausted it yields silence until closed, so the
// call stays up and VAD sees the speaker stop.
type FileMicrophone struct {
	Path string
	// Loop restarts the file instead of falling silent.
	Loop bool
	// Unpaced delivers samples as fast as they are read and ends with
	// io.EOF instead of trailing silence.
	Unpaced bool
}

func (m FileMicrophone) Open(ctx context.Context) (InputStream, error) {
	samples, err := audio.DecodeFile(m.Path)
	if err != nil {
		return nil, err
	}
	return &fileStream{
		samples: audio.PCM16ToFloat(nil, samples),
		loop:    m.Loop,
		paced:   !m.Unpaced,
		started: time.Now(),
		closed:  make(chan struct{}),
	}, nil
}

type fileStream struct {
	samples []float32
	loop    bool
	paced   bool
	started time.Time

	pos       int
	delivered int64

	once   sync.Once
	closed chan struct{}
}

func (s *fileStream) Read(p []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}

	if s.paced {
		due := s.started.Add(time.Duration(s.delivered+int64(len(p))) * time.Second / audio.WireSampleRate)
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-s.closed:
				timer.Stop()
				return 0, io.EOF
			}
		}
	}

	n := 0
	for n < len(p) {
		if s.pos >= len(s.samples) {
			if !s.loop || len(s.samples) == 0 {
				if !s.paced {
					s.delivered += int64(n)
					if n == 0 {
						return 0, io.EOF
					}
					return n, nil
				}
				clear(p[n:])
				n = len(p)
				break
			}
			s.pos = 0
		}
		c := copy(p[n:], s.samples[s.pos:])
		s.pos += c
		n += c
	}
	s.delivered += int64(n)
	return n, nil
}

func (s *fileStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
