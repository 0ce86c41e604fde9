package audio

import (
	"encoding/binary"
	"math"

	goaudio "github.com/go-audio/audio"
)

const defaultPCMBitDepth = 16

// Normalize converts an array-like chunk payload into a fresh dense sample buffer.
// Integer PCM is scaled to [-1, 1). Unknown or empty payloads yield an empty buffer.
// The result never aliases raw.
func Normalize(raw any) []float64 {
	switch data := raw.(type) {
	case nil:
		return []float64{}
	case []float64:
		out := make([]float64, len(data))
		copy(out, data)

		return out
	case []float32:
		return fromFloat32(data)
	case []int16:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v) / pcmScale(16)
		}

		return out
	case []int32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v) / pcmScale(32)
		}

		return out
	case []int:
		return fromInts(data, defaultPCMBitDepth)
	case []byte:
		return fromPCM16LE(data)
	case [][]float64:
		out := make([]float64, 0, rowsLen(data))
		for _, row := range data {
			out = append(out, row...)
		}

		return out
	case [][]float32:
		out := make([]float64, 0, rowsLen(data))
		for _, row := range data {
			out = append(out, fromFloat32(row)...)
		}

		return out
	case *goaudio.FloatBuffer:
		if data == nil {
			return []float64{}
		}

		return Normalize(data.Data)
	case *goaudio.Float32Buffer:
		if data == nil {
			return []float64{}
		}

		return fromFloat32(data.Data)
	case *goaudio.IntBuffer:
		if data == nil {
			return []float64{}
		}

		return fromInts(data.Data, data.SourceBitDepth)
	case goaudio.Buffer:
		floats := data.AsFloatBuffer()
		if floats == nil {
			return []float64{}
		}

		return Normalize(floats.Data)
	default:
		return []float64{}
	}
}

func fromFloat32(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}

	return out
}

func fromInts(data []int, bitDepth int) []float64 {
	if bitDepth <= 0 {
		bitDepth = defaultPCMBitDepth
	}

	scale := pcmScale(bitDepth)
	out := make([]float64, len(data))

	for i, v := range data {
		out[i] = float64(v) / scale
	}

	return out
}

// fromPCM16LE decodes little-endian signed 16-bit PCM. A trailing odd byte is not
// a whole sample and is ignored.
func fromPCM16LE(data []byte) []float64 {
	out := make([]float64, len(data)/2)
	for i := range out {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float64(sample) / pcmScale(16)
	}

	return out
}

func pcmScale(bitDepth int) float64 {
	return math.Exp2(float64(bitDepth - 1))
}

func rowsLen[T any](rows [][]T) int {
	total := 0
	for _, row := range rows {
		total += len(row)
	}

	return total
}
