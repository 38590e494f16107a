package speech

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var errNotWAV = errors.New("speech: not a RIFF/WAVE file")

// DecodeWAV extracts 16-bit PCM from a WAV file and converts it to the
// pipeline format (mono, SampleRate). Multi-channel audio is downmixed.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, errNotWAV
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		pcm                    []byte
		haveFmt                bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			// Some encoders write a placeholder size for streamed data.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("speech: short fmt chunk (%d bytes)", end-body)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}
		off = end + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("speech: wav missing fmt chunk")
	}
	if pcm == nil {
		return nil, fmt.Errorf("speech: wav missing data chunk")
	}
	// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, which soundfile uses for plain PCM too.
	if (format != 1 && format != 0xFFFE) || bits != 16 {
		return nil, fmt.Errorf("speech: unsupported wav encoding (format %d, %d bits)", format, bits)
	}
	if channels == 0 || rate == 0 {
		return nil, fmt.Errorf("speech: invalid wav header (%d channels, %d Hz)", channels, rate)
	}

	samples := make([]int16, len(pcm)/2/int(channels))
	for i := range samples {
		var sum int
		for ch := 0; ch < int(channels); ch++ {
			at := (i*int(channels) + ch) * 2
			sum += int(int16(binary.LittleEndian.Uint16(pcm[at:])))
		}
		samples[i] = int16(sum / int(channels))
	}

	samples = resample(samples, int(rate), SampleRate)
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// resample converts between sample rates by linear interpolation.
func resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(dstRate) / float64(srcRate)
	n := len(samples) * dstRate / srcRate
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}
