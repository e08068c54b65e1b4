package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// pcmScale is the float-to-int16 scale factor applied to normalised samples.
const pcmScale = 32768

// FloatToPCM16 converts normalised float samples to little-endian PCM16 bytes.
// Samples are clamped to [-1.0, 1.0] before scaling with round(s * 32768) and
// the product is saturated to the int16 range, so +1.0 maps to 32767.
// NaN samples are encoded as silence.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

// FloatToPCM16Legacy converts samples the way the browser client historically
// did: round(s * 32768) truncated to 16 bits with no clamping. Values outside
// [-1.0, 1.0] (and +1.0 itself) wrap around. Kept for parity checks only.
func FloatToPCM16Legacy(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := int32(math.Round(float64(s) * pcmScale))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func quantize(s float32) int16 {
	f := float64(s)
	switch {
	case math.IsNaN(f):
		return 0
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	v := math.Round(f * pcmScale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// EncodeFloat32 converts a block of normalised samples to the base64 PCM16
// wire payload. See [FloatToPCM16] for the conversion rules.
func EncodeFloat32(samples []float32) string {
	return base64.StdEncoding.EncodeToString(FloatToPCM16(samples))
}

// EncodeFloat32Legacy is [EncodeFloat32] with the unclamped wraparound
// conversion of [FloatToPCM16Legacy].
func EncodeFloat32Legacy(samples []float32) string {
	return base64.StdEncoding.EncodeToString(FloatToPCM16Legacy(samples))
}

// DecodePCM16 decodes a base64 PCM16 payload into int16 samples.
// It returns an error for invalid base64 or an odd byte count.
func DecodePCM16(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return PCM16Samples(raw)
}

// PCM16Samples reinterprets little-endian PCM16 bytes as int16 samples.
// It returns an error if pcm has an odd byte count.
func PCM16Samples(pcm []byte) ([]int16, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio: odd byte count %d in PCM16 data", len(pcm))
	}
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out, nil
}

// PCM16ToFloat converts int16 samples back to normalised floats (s / 32768).
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / pcmScale
	}
	return out
}
