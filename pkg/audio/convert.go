package audio

import "time"

// PCM is decoded, interleaved integer audio.
type PCM struct {
	// Samples holds interleaved samples at BitDepth precision.
	Samples []int

	SampleRate int
	Channels   int
	BitDepth   int
}

// Frames returns the number of sample frames (samples per channel).
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Duration returns the playback length of p.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// To16Bit rescales samples to 16-bit precision. 8-bit WAV data is unsigned
// and is re-centred around zero.
func (p PCM) To16Bit() PCM {
	if p.BitDepth == 16 || p.BitDepth == 0 {
		p.BitDepth = 16
		return p
	}
	out := make([]int, len(p.Samples))
	for i, s := range p.Samples {
		switch {
		case p.BitDepth == 8:
			out[i] = (s - 128) << 8
		case p.BitDepth > 16:
			out[i] = s >> (p.BitDepth - 16)
		default:
			out[i] = s << (16 - p.BitDepth)
		}
	}
	return PCM{Samples: out, SampleRate: p.SampleRate, Channels: p.Channels, BitDepth: 16}
}

// Mono averages all channels of each frame into a single channel. Mono input
// is returned unchanged.
func (p PCM) Mono() PCM {
	if p.Channels <= 1 {
		p.Channels = 1
		return p
	}
	frames := p.Frames()
	out := make([]int, frames)
	for i := range frames {
		sum := 0
		for ch := range p.Channels {
			sum += p.Samples[i*p.Channels+ch]
		}
		out[i] = sum / p.Channels
	}
	return PCM{Samples: out, SampleRate: p.SampleRate, Channels: 1, BitDepth: p.BitDepth}
}

// Resample converts mono PCM to dstRate using linear interpolation. Callers
// downmix with [PCM.Mono] first; multi-channel input is downmixed implicitly.
func (p PCM) Resample(dstRate int) PCM {
	p = p.Mono()
	if p.SampleRate <= 0 || dstRate <= 0 || p.SampleRate == dstRate || len(p.Samples) < 2 {
		if dstRate > 0 && len(p.Samples) < 2 {
			p.SampleRate = dstRate
		}
		return p
	}

	srcSamples := len(p.Samples)
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(p.SampleRate))
	out := make([]int, dstSamples)
	ratio := float64(p.SampleRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := p.Samples[srcIdx]
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = p.Samples[srcIdx+1]
		}
		out[i] = int(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return PCM{Samples: out, SampleRate: dstRate, Channels: 1, BitDepth: p.BitDepth}
}

// Float32 returns the samples normalised to [-1.0, 1.0].
func (p PCM) Float32() []float32 {
	depth := p.BitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float32(int(1) << (depth - 1))
	out := make([]float32, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = float32(s) / scale
	}
	return out
}

// PCMFromInt16 wraps interleaved int16 samples, such as Opus decoder output.
func PCMFromInt16(samples []int16, sampleRate, channels int) PCM {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(s)
	}
	return PCM{Samples: out, SampleRate: sampleRate, Channels: channels, BitDepth: 16}
}

// PCMFromBytes16 wraps little-endian signed 16-bit PCM bytes. A trailing odd
// byte is ignored.
func PCMFromBytes16(b []byte, sampleRate, channels int) PCM {
	n := len(b) / 2
	out := make([]int, n)
	for i := range n {
		out[i] = int(int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8))
	}
	return PCM{Samples: out, SampleRate: sampleRate, Channels: channels, BitDepth: 16}
}

// Canonicalise converts p to 16-bit mono at the canonical sample rate.
func (p PCM) Canonicalise() PCM {
	return p.To16Bit().Mono().Resample(CanonicalSampleRate)
}
