package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToInt16 converts little-endian float32 PCM to little-endian 16-bit
// PCM. Samples outside [-1, 1] are clipped.
func Float32ToInt16(pcm []byte) []byte {
	out := make([]byte, len(pcm)/4*2)
	for i := range len(pcm) / 4 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
		f = max(-1, min(1, f))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(f*math.MaxInt16)))
	}
	return out
}

// Resample16 converts interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate by linear interpolation. The input is returned
// unchanged when the rates match or either rate is not positive. A trailing
// partial sample frame is ignored.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return pcm
	}
	frameSize := channels * 2
	src := len(pcm) / frameSize
	if src == 0 {
		return nil
	}
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dst*frameSize)

	sample := func(frame, ch int) float64 {
		frame = min(frame, src-1)
		return float64(int16(binary.LittleEndian.Uint16(pcm[frame*frameSize+ch*2:])))
	}

	step := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		for ch := range channels {
			v := sample(idx, ch)*(1-frac) + sample(idx+1, ch)*frac
			binary.LittleEndian.PutUint16(out[i*frameSize+ch*2:], uint16(int16(math.Round(v))))
		}
	}
	return out
}
