package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	callkit "github.com/meetscribe/callkit/sdk"
)

// ffplaySink plays raw PCM through an ffplay child process. It implements
// callkit.PlaybackSink: each segment is streamed to ffplay's stdin in
// realtime-ish chunks, and Stop restarts the process to drop its buffer.
type ffplaySink struct {
	path       string
	sampleRate int
	channels   int
	volume     int
	noSpeaker  bool

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFPlaySink(path string, sampleRate, channels, volume int, noSpeaker bool) *ffplaySink {
	if path == "" {
		path = "ffplay"
	}
	if volume <= 0 {
		volume = 80
	}
	return &ffplaySink{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
		volume:     volume,
		noSpeaker:  noSpeaker,
	}
}

func (s *ffplaySink) Play(item callkit.PlaybackItem, done func(error)) {
	go func() {
		done(s.stream(item.Audio))
	}()
}

func (s *ffplaySink) Stop() {
	if s.noSpeaker {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// stream feeds one segment in 20ms slices so Stop can interrupt mid-segment.
func (s *ffplaySink) stream(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if s.noSpeaker {
		// Simulate playback duration without audio output.
		time.Sleep(s.duration(len(pcm)))
		return nil
	}
	if err := s.ensureRunning(); err != nil {
		return err
	}

	bytesPerTick := s.sampleRate * s.channels * 2 / 50
	if bytesPerTick <= 0 {
		bytesPerTick = 640
	}
	for off := 0; off < len(pcm); off += bytesPerTick {
		end := off + bytesPerTick
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := s.write(pcm[off:end]); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func (s *ffplaySink) duration(n int) time.Duration {
	bytesPerSecond := s.sampleRate * s.channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

func (s *ffplaySink) ensureRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}

	// ffplay does not accept ffmpeg-style `-ac`; use `-ch_layout`.
	chLayout := "mono"
	if s.channels == 2 {
		chLayout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-volume", fmt.Sprintf("%d", s.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL can pick a silent dummy backend on macOS; prefer CoreAudio.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
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
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

func (s *ffplaySink) write(p []byte) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("ffplay is not running")
	}
	_, err := stdin.Write(p)
	return err
}

func (s *ffplaySink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *ffplaySink) closeLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}
