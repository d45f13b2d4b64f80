package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zaf/g711"
)

// PCM constants
const (
	pcmMax = 32767  // Max 16-bit PCM value
	pcmMin = -32768 // Min 16-bit PCM value
)

// Wire format of the voice endpoint: 16-bit little endian, mono, 16 kHz.
const (
	WireSampleRate = 16000
	WireChannels   = 1
)

// ULawBytesToPCM converts µ-law bytes to PCM bytes
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// PCMBytesToULaw converts PCM bytes to µ-law
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ALawBytesToPCM converts A-law bytes to PCM bytes
func ALawBytesToPCM(aBytes []byte) []byte {
	return g711.DecodeAlaw(aBytes)
}

// ValidatePCMData validates PCM byte array for basic integrity
func ValidatePCMData(pcm []byte, numChannels int) error {
	if len(pcm)%2 != 0 {
		return errors.New("PCM data must have even length (16-bit samples)")
	}
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if numChannels <= 0 {
		return errors.New("invalid number of channels")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// GetPCMDurationSeconds returns duration in seconds
func GetPCMDurationSeconds(pcm []byte, numChannels, sampleRate int) (float64, error) {
	if err := ValidatePCMData(pcm, numChannels); err != nil {
		return 0, err
	}
	if sampleRate <= 0 {
		return 0, errors.New("invalid sample rate")
	}
	frameCount := len(pcm) / 2 / numChannels
	return float64(frameCount) / float64(sampleRate), nil
}

// WAVFormat is the subset of a RIFF fmt chunk the decoder needs.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
}

const (
	wavFormatPCM  = 1
	wavFormatALaw = 6
	wavFormatULaw = 7
)

// StripWAVHeaderIfPresent returns raw PCM bytes if input starts with a RIFF/WAVE header.
// If the input is not a WAV file, it returns the input unchanged.
// Only extracts the "data" chunk and ignores other subchunks.
func StripWAVHeaderIfPresent(chunk []byte) ([]byte, error) {
	data, _, err := parseWAV(chunk)
	return data, err
}

// parseWAV returns the data chunk and the fmt chunk, if any. A nil format
// means the input was not a WAV file.
func parseWAV(chunk []byte) ([]byte, *WAVFormat, error) {
	// Minimum RIFF header size: 12 bytes ("RIFF" + size + "WAVE")
	if len(chunk) < 12 {
		return chunk, nil, nil
	}
	if !bytes.HasPrefix(chunk, []byte("RIFF")) || !bytes.Equal(chunk[8:12], []byte("WAVE")) {
		return chunk, nil, nil
	}

	var format *WAVFormat
	i := 12
	for i+8 <= len(chunk) {
		chunkID := string(chunk[i : i+4])
		chunkSize := binary.LittleEndian.Uint32(chunk[i+4 : i+8])
		next := i + 8 + int(chunkSize)

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || next > len(chunk) {
				return nil, nil, errors.New("invalid WAV: short fmt chunk")
			}
			body := chunk[i+8:]
			format = &WAVFormat{
				AudioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
		case "data":
			if next > len(chunk) {
				return nil, nil, errors.New("invalid WAV: data chunk exceeds buffer length")
			}
			if format == nil {
				format = &WAVFormat{AudioFormat: wavFormatPCM, Channels: 1, SampleRate: WireSampleRate, BitsPerSample: 16}
			}
			return chunk[i+8 : next], format, nil
		}

		// Account for padding to even boundary
		if chunkSize%2 != 0 {
			next++
		}
		if next > len(chunk) {
			break
		}
		i = next
	}

	return nil, nil, errors.New("invalid WAV: data chunk not found")
}

// DecodeFile loads an audio file and returns mono 16-bit samples at the wire
// sample rate. Supported inputs: WAV (PCM16, µ-law, A-law), .ulaw/.alaw raw
// G.711 at 8 kHz, and anything else as raw s16le at 16 kHz.
func DecodeFile(path string) ([]int16, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ulaw", ".mulaw", ".ul":
		return Resample(BytesToPCM16(ULawBytesToPCM(raw)), 8000, WireSampleRate), nil
	case ".alaw", ".al":
		return Resample(BytesToPCM16(ALawBytesToPCM(raw)), 8000, WireSampleRate), nil
	}

	data, format, err := parseWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("audio: %s: %w", path, err)
	}
	if format == nil {
		if len(data)%2 != 0 {
			data = data[:len(data)-1]
		}
		return BytesToPCM16(data), nil
	}

	var pcm []byte
	switch format.AudioFormat {
	case wavFormatPCM:
		if format.BitsPerSample != 16 {
			return nil, fmt.Errorf("audio: %s: unsupported bit depth %d", path, format.BitsPerSample)
		}
		pcm = data
	case wavFormatULaw:
		pcm = ULawBytesToPCM(data)
	case wavFormatALaw:
		pcm = ALawBytesToPCM(data)
	default:
		return nil, fmt.Errorf("audio: %s: unsupported WAV format %d", path, format.AudioFormat)
	}

	samples := BytesToPCM16(pcm)
	if format.Channels > 1 {
		samples = DownmixToMono(samples, format.Channels)
	}
	return Resample(samples, format.SampleRate, WireSampleRate), nil
}
