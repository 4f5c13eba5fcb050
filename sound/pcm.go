package sound

import (
	"encoding/binary"
	"math"

	"github.com/go-audio/audio"

	"pipelined.dev/track"
)

// Decode converts interleaved PCM bytes into float samples in range
// [-1, 1]. Incomplete trailing frame is ignored.
func Decode(f track.Format, b []byte) *audio.FloatBuffer {
	buf := &audio.FloatBuffer{
		Format: &audio.Format{NumChannels: f.NumChannels, SampleRate: f.SampleRate},
	}
	size := f.Sample.Size()
	if size == 0 || f.NumChannels == 0 {
		return buf
	}
	n := int(f.Samples(len(b))) * f.NumChannels
	buf.Data = make([]float64, n)
	scale := float64(audio.IntMaxSignedValue(f.Sample.BitDepth()) + 1)
	for i := 0; i < n; i++ {
		s := b[i*size : i*size+size]
		switch f.Sample {
		case track.SampleS16LE:
			buf.Data[i] = float64(int16(binary.LittleEndian.Uint16(s))) / scale
		case track.SampleS24LE:
			buf.Data[i] = float64(audio.Int24LETo32(s)) / scale
		case track.SampleS32LE:
			buf.Data[i] = float64(int32(binary.LittleEndian.Uint32(s))) / scale
		case track.SampleF32LE:
			buf.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(s)))
		}
	}
	return buf
}

// Encode appends float samples to dst in the PCM format. Samples out of
// range [-1, 1] are clipped for integer formats.
func Encode(f track.Format, data []float64, dst []byte) []byte {
	size := f.Sample.Size()
	if size == 0 {
		return dst
	}
	max := float64(audio.IntMaxSignedValue(f.Sample.BitDepth()))
	var b [4]byte
	for _, v := range data {
		if f.Sample == track.SampleF32LE {
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
			dst = append(dst, b[:4]...)
			continue
		}
		v = clip(v) * max
		i := int64(math.Round(v))
		switch f.Sample {
		case track.SampleS16LE:
			binary.LittleEndian.PutUint16(b[:], uint16(int16(i)))
		case track.SampleS24LE:
			copy(b[:], audio.Int32toInt24LEBytes(int32(i)))
		case track.SampleS32LE:
			binary.LittleEndian.PutUint32(b[:], uint32(int32(i)))
		}
		dst = append(dst, b[:size]...)
	}
	return dst
}

func clip(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// DB converts gain in decibels to amplitude ratio.
func DB(gain float64) float64 {
	return math.Pow(10, gain/20)
}

// ToDB converts amplitude ratio to decibels.
func ToDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}
