package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts frames to a target format. It logs a warning on
// the first format mismatch and drops frames whose byte count is not a whole
// number of samples. Create one per stream; not safe for concurrent use.
type FormatConverter struct {
	target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// NewFormatConverter returns a converter producing frames in target. It fails
// with [ErrUnsupportedFormat] when target cannot be produced.
func NewFormatConverter(target Format) (*FormatConverter, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("audio: new converter: %w", err)
	}
	return &FormatConverter{target: target}, nil
}

// Target returns the format frames are converted to.
func (c *FormatConverter) Target() Format { return c.target }

// Convert converts frame to the target format. A frame already in the target
// format is returned unchanged. A frame with a truncated sample is dropped and
// returned with nil Data. Resampling runs before channel conversion.
func (c *FormatConverter) Convert(frame Frame) (Frame, error) {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"format", frame.Format().String(),
			)
		})
		return Frame{SampleRate: c.target.SampleRate, Channels: c.target.Channels, Timestamp: frame.Timestamp}, nil
	}

	if frame.Format() == c.target {
		return frame, nil
	}
	if err := frame.Format().Validate(); err != nil {
		return Frame{}, fmt.Errorf("audio: convert: %w", err)
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio: format mismatch, converting",
			"from", frame.Format().String(),
			"to", c.target.String(),
		)
	})

	pcm := frame.Data
	if frame.SampleRate != c.target.SampleRate {
		pcm = Resample16(pcm, frame.Channels, frame.SampleRate, c.target.SampleRate)
	}
	switch {
	case frame.Channels == 1 && c.target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case frame.Channels == 2 && c.target.Channels == 1:
		pcm = StereoToMono(pcm)
	}

	return Frame{
		Data:       pcm,
		SampleRate: c.target.SampleRate,
		Channels:   c.target.Channels,
		Timestamp:  frame.Timestamp,
	}, nil
}

// MonoToStereo duplicates each int16 mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R pair into one int16 sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// Resample16 resamples interleaved int16 PCM with the given channel count from
// srcRate to dstRate using linear interpolation. Invalid rates or identical
// rates return the input unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	frameBytes := 2 * channels
	srcFrames := len(pcm) / frameBytes
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int32(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, v int32) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}

func clamp16(v int32) int32 {
	return max(-32768, min(32767, v))
}
