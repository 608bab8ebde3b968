package rafiq

import "testing"

func TestParsePCMFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mime string
		want PCMFormat
	}{
		{
			name: "l16 with rate",
			mime: "audio/L16;rate=24000",
			want: PCMFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16},
		},
		{
			name: "pcm with rate and channels",
			mime: "audio/pcm;rate=16000;channels=2",
			want: PCMFormat{SampleRate: 16000, Channels: 2, BitsPerSample: 16},
		},
		{
			name: "l8 subtype carries bit depth",
			mime: "audio/L8;rate=8000",
			want: PCMFormat{SampleRate: 8000, Channels: 1, BitsPerSample: 8},
		},
		{
			name: "case insensitive keys and subtype",
			mime: "AUDIO/l16;RATE=24000;Channels=2",
			want: PCMFormat{SampleRate: 24000, Channels: 2, BitsPerSample: 16},
		},
		{
			name: "unknown parameters ignored",
			mime: "audio/L16;codec=pcm;rate=24000",
			want: PCMFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16},
		},
		{
			name: "whitespace around parameters",
			mime: "audio/L16; rate=24000 ; channels=1",
			want: PCMFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16},
		},
		{
			name: "unparsable subtype suffix keeps default depth",
			mime: "audio/Lxx;rate=8000",
			want: PCMFormat{SampleRate: 8000, Channels: 1, BitsPerSample: 16},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePCMFormat(tt.mime)
			if err != nil {
				t.Fatalf("ParsePCMFormat(%q) error: %v", tt.mime, err)
			}
			if got != tt.want {
				t.Fatalf("ParsePCMFormat(%q)=%+v, want %+v", tt.mime, got, tt.want)
			}
		})
	}
}

func TestParsePCMFormat_Errors(t *testing.T) {
	t.Parallel()

	for _, mime := range []string{
		"",
		"text/plain",
		"video/L16;rate=24000",
		"audio/L16",
		"audio/pcm;channels=2",
		"audio/L16;rate=0",
		"audio/L16;rate=-1",
	} {
		if _, err := ParsePCMFormat(mime); err == nil {
			t.Errorf("ParsePCMFormat(%q) succeeded, want error", mime)
		}
	}
}

func TestPCMFormat_BytesPerFrame(t *testing.T) {
	t.Parallel()

	format := PCMFormat{SampleRate: 24000, Channels: 2, BitsPerSample: 16}
	if got := format.BytesPerFrame(); got != 4 {
		t.Fatalf("BytesPerFrame()=%d, want 4", got)
	}
}
