package rafiq

import (
	"fmt"
	"strconv"
	"strings"
)

// PCMFormat describes the linear PCM encoding in effect for a live audio
// stream. Samples are little-endian, interleaved by channel, signed for
// 16-bit and unsigned for 8-bit.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerFrame returns the size of one interleaved frame.
func (f PCMFormat) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// ParsePCMFormat parses a MIME-style audio descriptor of the form
// audio/L<bits>[;rate=<hz>][;channels=<n>] or
// audio/pcm[;rate=<hz>][;channels=<n>]. Parameter keys are matched
// case-insensitively. Bits default to 16 and channels to 1 when omitted;
// the rate is required and must be positive.
func ParsePCMFormat(mimeType string) (PCMFormat, error) {
	trimmed := strings.TrimSpace(mimeType)
	if trimmed == "" {
		return PCMFormat{}, fmt.Errorf("empty audio MIME type")
	}

	fields := strings.Split(trimmed, ";")
	base := strings.ToLower(strings.TrimSpace(fields[0]))

	format := PCMFormat{Channels: 1, BitsPerSample: 16}
	switch {
	case strings.HasPrefix(base, "audio/l"):
		// audio/L<bits> carries the bit depth in the subtype. An
		// unparsable suffix keeps the 16-bit default.
		if bits, err := strconv.Atoi(base[len("audio/l"):]); err == nil {
			format.BitsPerSample = bits
		}
	case base == "audio/pcm":
	default:
		return PCMFormat{}, fmt.Errorf("unsupported audio MIME type %q", mimeType)
	}

	for _, param := range fields[1:] {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "rate":
			if rate, err := strconv.Atoi(value); err == nil {
				format.SampleRate = rate
			}
		case "channels":
			if channels, err := strconv.Atoi(value); err == nil {
				format.Channels = channels
			}
		}
	}

	if format.SampleRate <= 0 || format.Channels <= 0 || format.BitsPerSample <= 0 {
		return PCMFormat{}, fmt.Errorf("incomplete audio format in %q (rate=%d channels=%d bits=%d)",
			mimeType, format.SampleRate, format.Channels, format.BitsPerSample)
	}
	return format, nil
}
