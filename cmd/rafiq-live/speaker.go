package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"

	rafiq "github.com/rafiq-ai/rafiq-go/sdk"
)

// ffplayEngine feeds decoded buffers to an ffplay child process reading
// raw s16le from stdin. Completion is modeled on wall-clock duration:
// done fires when the buffer's worth of audio has elapsed.
type ffplayEngine struct {
	path      string
	logLevel  string
	volume    int
	noSpeaker bool
	logger    *slog.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	sampleRate int
	channels   int
	gen        int
	pending    *time.Timer
}

func newFFPlayEngine(path string, volume int, noSpeaker bool, logger *slog.Logger) *ffplayEngine {
	if path == "" {
		path = "ffplay"
	}
	if volume <= 0 {
		volume = 80
	}
	return &ffplayEngine{
		path:      path,
		logLevel:  "error",
		volume:    volume,
		noSpeaker: noSpeaker,
		logger:    logger,
	}
}

func (e *ffplayEngine) Resume() error {
	return nil
}

func (e *ffplayEngine) Play(buf *rafiq.AudioBuffer, done func()) error {
	frames := buf.FrameCount()
	if frames == 0 || buf.SampleRate <= 0 {
		return fmt.Errorf("empty audio buffer")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.noSpeaker {
		if err := e.ensureLocked(buf.SampleRate, len(buf.Channels)); err != nil {
			return err
		}
		if _, err := e.stdin.Write(interleaveS16LE(buf)); err != nil {
			return err
		}
	}

	// Stop bumps gen, so a stopped buffer never reports completion.
	gen := e.gen
	duration := time.Duration(frames) * time.Second / time.Duration(buf.SampleRate)
	e.pending = time.AfterFunc(duration, func() {
		e.mu.Lock()
		live := gen == e.gen
		if live {
			e.pending = nil
		}
		e.mu.Unlock()
		if live {
			done()
		}
	})
	return nil
}

func (e *ffplayEngine) Stop() {
	e.mu.Lock()
	e.gen++
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
	e.closeLocked()
	e.mu.Unlock()
}

func (e *ffplayEngine) Close() {
	e.Stop()
}

// ensureLocked starts ffplay, restarting it when the stream format
// changes.
func (e *ffplayEngine) ensureLocked(sampleRate, channels int) error {
	if e.cmd != nil && (e.sampleRate != sampleRate || e.channels != channels) {
		e.closeLocked()
	}
	if e.cmd != nil {
		return nil
	}

	chLayout := "mono"
	if channels == 2 {
		chLayout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", e.logLevel,
		"-nostats",
		"-volume", fmt.Sprintf("%d", e.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(e.path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	e.logger.Debug("ffplay started", "pid", cmd.Process.Pid, "rate", sampleRate, "channels", channels)

	e.cmd = cmd
	e.stdin = stdin
	e.sampleRate = sampleRate
	e.channels = channels
	go func(c *exec.Cmd) {
		_ = c.Wait()
		e.mu.Lock()
		if e.cmd == c {
			e.cmd = nil
			e.stdin = nil
		}
		e.mu.Unlock()
	}(cmd)
	return nil
}

func (e *ffplayEngine) closeLocked() {
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	e.cmd = nil
	e.stdin = nil
}

// interleaveS16LE packs planar normalized samples back into interleaved
// signed 16-bit little-endian bytes.
func interleaveS16LE(buf *rafiq.AudioBuffer) []byte {
	frames := buf.FrameCount()
	channels := len(buf.Channels)
	out := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := buf.Channels[ch][i]
			v = math.Max(-1, math.Min(1, v))
			s := int16(v * 32767.0)
			off := (i*channels + ch) * 2
			out[off] = byte(s)
			out[off+1] = byte(s >> 8)
		}
	}
	return out
}
