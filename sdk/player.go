package rafiq

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
)

// AudioBuffer is decoded planar audio ready for an AudioEngine: one slice
// per channel, samples normalized to [-1, 1].
type AudioBuffer struct {
	SampleRate int
	Channels   [][]float64
}

// FrameCount returns the number of frames per channel.
func (b *AudioBuffer) FrameCount() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// AudioEngine is the host audio output sink. Implementations schedule
// buffers for immediate playback and report natural completion.
type AudioEngine interface {
	// Resume ensures the engine is running and able to accept buffers.
	Resume() error
	// Play schedules buf for immediate playback. done must be invoked
	// exactly once when playback of buf completes naturally, after Play
	// has returned, and never after Stop.
	Play(buf *AudioBuffer, done func()) error
	// Stop halts any in-progress playback immediately.
	Stop()
}

// StreamingPlayer converts an arriving sequence of (format descriptor,
// base64 audio chunk) pairs into continuous playback with no gaps beyond
// natural inter-chunk latency. Malformed descriptors and chunks are
// dropped with a diagnostic; they are never surfaced as errors.
type StreamingPlayer struct {
	engine AudioEngine
	logger *slog.Logger

	mu      sync.Mutex
	format  *PCMFormat
	queue   []audioChunk
	playing bool
}

// Each queued chunk is stamped with the format that was active when it
// arrived, so a late format change can never reinterpret old bytes.
type audioChunk struct {
	data   []byte
	format PCMFormat
}

// NewStreamingPlayer creates a player over the given engine. A nil logger
// falls back to slog.Default().
func NewStreamingPlayer(engine AudioEngine, logger *slog.Logger) *StreamingPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamingPlayer{engine: engine, logger: logger}
}

// SetFormat adopts the PCM format described by mimeType. An unparsable
// descriptor clears the format, and chunks are dropped until a valid one
// arrives. A valid format that differs from the active one stops playback
// and clears the queue before being adopted.
func (p *StreamingPlayer) SetFormat(mimeType string) {
	format, err := ParsePCMFormat(mimeType)

	p.mu.Lock()
	if err != nil {
		p.logger.Warn("unsupported live audio format descriptor", "mime_type", mimeType, "error", err)
		p.format = nil
		p.mu.Unlock()
		return
	}
	flush := p.format != nil && *p.format != format
	p.format = &format
	if flush {
		p.queue = nil
		p.playing = false
	}
	p.mu.Unlock()

	if flush {
		p.engine.Stop()
	}
}

// AddChunk decodes one base64 audio chunk, queues it under the current
// format, and starts playback if idle. Chunks arriving before a valid
// format are dropped.
func (p *StreamingPlayer) AddChunk(base64Data string) {
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		p.logger.Warn("dropping undecodable live audio chunk", "error", err)
		return
	}
	p.AddPCM(data)
}

// AddPCM queues one already-decoded raw PCM chunk under the current
// format. Chunks arriving before a valid format are dropped.
func (p *StreamingPlayer) AddPCM(data []byte) {
	p.mu.Lock()
	if p.format == nil {
		p.mu.Unlock()
		p.logger.Debug("dropping live audio chunk: no format set")
		return
	}
	p.queue = append(p.queue, audioChunk{data: data, format: *p.format})
	p.mu.Unlock()

	p.pump()
}

// StopAndClear halts playback immediately, discards all queued chunks,
// and resets to idle. Idempotent. The queue is cleared before the engine
// stops, so a pump racing a late completion callback finds nothing left
// to schedule.
func (p *StreamingPlayer) StopAndClear() {
	p.mu.Lock()
	p.queue = nil
	p.playing = false
	p.mu.Unlock()

	p.engine.Stop()
}

// IsActive reports whether the player is currently playing or has chunks
// queued.
func (p *StreamingPlayer) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing || len(p.queue) > 0
}

// pump plays queued chunks one at a time. A single malformed chunk is
// dropped and the pump moves on; it must never stall the stream.
func (p *StreamingPlayer) pump() {
	for {
		p.mu.Lock()
		if p.playing || len(p.queue) == 0 || p.format == nil {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if err := p.engine.Resume(); err != nil {
			// Not playing; the next AddChunk re-enters the pump.
			p.logger.Warn("audio engine resume failed", "error", err)
			return
		}

		p.mu.Lock()
		if p.playing || len(p.queue) == 0 || p.format == nil {
			p.mu.Unlock()
			return
		}
		chunk := p.queue[0]
		p.queue = p.queue[1:]
		buf, err := decodePCMChunk(chunk)
		if err != nil {
			p.mu.Unlock()
			p.logger.Warn("dropping malformed live audio chunk", "error", err)
			continue
		}
		p.playing = true

		// Play runs under the lock so StopAndClear and SetFormat cannot
		// slip in between the dequeue and the scheduling. The engine
		// contract keeps this deadlock-free: done fires only after Play
		// has returned, never synchronously inside it.
		err = p.engine.Play(buf, p.onBufferDone)
		if err != nil {
			p.playing = false
			p.mu.Unlock()
			p.logger.Warn("scheduling live audio buffer failed", "error", err)
			continue
		}
		p.mu.Unlock()
		return
	}
}

// onBufferDone is invoked by the engine when the current buffer finishes,
// which chains directly into the next chunk for gapless playback.
func (p *StreamingPlayer) onBufferDone() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	p.pump()
}

// decodePCMChunk de-interleaves one raw chunk under its stamped format.
// 16-bit samples are signed little-endian divided by 32768; 8-bit samples
// are unsigned, shifted by 128 and divided by 128.
func decodePCMChunk(chunk audioChunk) (*AudioBuffer, error) {
	format := chunk.format
	bytesPerSample := format.BitsPerSample / 8
	frameSize := format.Channels * bytesPerSample
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size for format %+v", format)
	}
	if len(chunk.data)%frameSize != 0 {
		return nil, fmt.Errorf("chunk length %d is not a multiple of frame size %d", len(chunk.data), frameSize)
	}
	frames := len(chunk.data) / frameSize
	if frames == 0 {
		return nil, fmt.Errorf("chunk holds zero frames")
	}
	if format.BitsPerSample != 8 && format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", format.BitsPerSample)
	}

	buf := &AudioBuffer{
		SampleRate: format.SampleRate,
		Channels:   make([][]float64, format.Channels),
	}
	for ch := 0; ch < format.Channels; ch++ {
		samples := make([]float64, frames)
		switch format.BitsPerSample {
		case 16:
			for i := 0; i < frames; i++ {
				off := (i*format.Channels + ch) * 2
				sample := int16(uint16(chunk.data[off]) | uint16(chunk.data[off+1])<<8)
				samples[i] = float64(sample) / 32768.0
			}
		case 8:
			for i := 0; i < frames; i++ {
				sample := chunk.data[i*format.Channels+ch]
				samples[i] = (float64(sample) - 128.0) / 128.0
			}
		}
		buf.Channels[ch] = samples
	}
	return buf, nil
}
