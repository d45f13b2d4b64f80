package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"clamp above", 1.7, 32767},
		{"clamp below", -3, -32768},
		{"half positive", 0.5, 16383},
		{"half negative", -0.5, -16384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FloatToPCM16(nil, []float32{tt.in})
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestPCM16ToFloat(t *testing.T) {
	got := PCM16ToFloat(nil, []int16{0, -32768, 16384})
	assert.Equal(t, []float32{0, -1, 0.5}, got)
}

func TestBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	b := PCM16ToBytes(samples)
	assert.Equal(t, []byte{0, 0, 1, 0, 0xff, 0xff, 0xff, 0x7f, 0x00, 0x80}, b)
	assert.Equal(t, samples, BytesToPCM16(b))
	assert.Equal(t, samples[:2], BytesToPCM16(b[:5]), "odd trailing byte ignored")
}

func TestMeanAbsAmplitude(t *testing.T) {
	assert.Equal(t, 0.0, MeanAbsAmplitude(nil))
	assert.Equal(t, 2500.0, MeanAbsAmplitude([]int16{2000, -3000, 2000, -3000}))
	assert.Equal(t, 32768.0, MeanAbsAmplitude([]int16{-32768}))
}

func TestResample(t *testing.T) {
	in := []int16{0, 100, 200, 300}
	out := Resample(in, 8000, 16000)
	require.Len(t, out, 8)
	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, int16(50), out[1])
	assert.Equal(t, int16(100), out[2])
	assert.Equal(t, in, Resample(in, 16000, 16000))
}

func TestDownmixToMono(t *testing.T) {
	assert.Equal(t, []int16{15, -5}, DownmixToMono([]int16{10, 20, 0, -10}, 2))
}

func wavBytes(format uint16, rate, bits int, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, format)
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*bits/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bits/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func TestStripWAVHeader(t *testing.T) {
	pcm := PCM16ToBytes([]int16{1, 2, 3})
	got, err := StripWAVHeaderIfPresent(wavBytes(wavFormatPCM, 16000, 16, pcm))
	require.NoError(t, err)
	assert.Equal(t, pcm, got)

	raw := []byte{1, 2, 3, 4}
	got, err = StripWAVHeaderIfPresent(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()

	wav := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(wav, wavBytes(wavFormatPCM, 16000, 16, PCM16ToBytes([]int16{5, -5})), 0o644))
	got, err := DecodeFile(wav)
	require.NoError(t, err)
	assert.Equal(t, []int16{5, -5}, got)

	ulaw := filepath.Join(dir, "in.ulaw")
	encoded, err := PCMBytesToULaw(PCM16ToBytes(make([]int16, 80)))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ulaw, encoded, 0o644))
	got, err = DecodeFile(ulaw)
	require.NoError(t, err)
	assert.Len(t, got, 160)

	bad := filepath.Join(dir, "bad.wav")
	require.NoError(t, os.WriteFile(bad, wavBytes(wavFormatPCM, 16000, 24, []byte{0, 0, 0}), 0o644))
	_, err = DecodeFile(bad)
	assert.Error(t, err)
}
