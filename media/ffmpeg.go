package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// FFmpegMicrophone captures the default input device through ffmpeg, as
// 32-bit float mono samples.
type FFmpegMicrophone struct {
	SampleRate int
	// Device overrides the platform default input ("default" on pulse, ":0"
	// on avfoundation).
	Device string
}

func ffmpegMicArgs(goos, device string, sampleRate int) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		input = []string{"-f", "avfoundation", "-i", device}
	case "linux":
		if device == "" {
			device = "default"
		}
		input = []string{"-f", "pulse", "-i", device}
	default:
		return nil, fmt.Errorf("ffmpeg microphone: unsupported platform %s; supported platforms: darwin, linux", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
		"-f", "f32le", "-",
	), nil
}

// Open starts ffmpeg and waits for the first sample so device errors surface
// here rather than on the first Read.
func (m FFmpegMicrophone) Open(ctx context.Context) (InputStream, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := ffmpegMicArgs(runtime.GOOS, m.Device, m.SampleRate)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	var stderr lockedBuffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}

	s := &ffmpegStream{cmd: cmd, r: bufio.NewReaderSize(stdout, 16384)}

	probe := make(chan error, 1)
	go func() {
		_, err := s.r.Peek(4)
		probe <- err
	}()
	select {
	case err = <-probe:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		s.Close()
		msg := strings.TrimSpace(stderr.String())
		if isPermissionMessage(msg) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
		if msg != "" {
			return nil, fmt.Errorf("ffmpeg mic capture: %s", msg)
		}
		return nil, fmt.Errorf("ffmpeg mic capture: %w", err)
	}
	return s, nil
}

func isPermissionMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "not authorized")
}

type ffmpegStream struct {
	cmd  *exec.Cmd
	r    *bufio.Reader
	buf  []byte
	once sync.Once
}

func (s *ffmpegStream) Read(p []float32) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	need := len(p) * 4
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]
	// Whole blocks only, so a sample never straddles two reads.
	n, err := io.ReadFull(s.r, buf)
	samples := n / 4
	for i := 0; i < samples; i++ {
		p[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return samples, err
}

func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
	})
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// FFplayOutput pipes s16le mono audio into ffplay.
type FFplayOutput struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFplayOutput starts ffplay reading raw PCM from stdin.
func NewFFplayOutput(sampleRate int) (*FFplayOutput, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	cmd := exec.Command("ffplay",
		"-nodisp",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}
	return &FFplayOutput{cmd: cmd, stdin: stdin}, nil
}

func (p *FFplayOutput) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return 0, errors.New("ffplay stdin is not initialized")
	}
	return p.stdin.Write(data)
}

func (p *FFplayOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
		p.cmd = nil
	}
	return nil
}
