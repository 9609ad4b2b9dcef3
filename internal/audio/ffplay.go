package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned by Play when Stop cut the clip short.
var ErrStopped = errors.New("playback stopped")

// FFPlay implements Sink by piping each clip into an ffplay process.
// Playback rate is applied with the atempo filter, whose supported range
// covers the 0.5–2.0 voice setting.
type FFPlay struct {
	binary string

	mu      sync.Mutex
	current *ffplayRun
}

type ffplayRun struct {
	cmd     *exec.Cmd
	done    chan struct{}
	stopped atomic.Bool
}

// NewFFPlay creates a sink that runs the given ffplay binary.
func NewFFPlay(binary string) *FFPlay {
	if binary == "" {
		binary = "ffplay"
	}
	return &FFPlay{binary: binary}
}

// Play decodes and plays c, blocking until it finished. A call whose context
// is already done returns without stopping the clip in flight.
func (p *FFPlay) Play(ctx context.Context, c Clip, rate float64) error {
	if len(c.Data) == 0 {
		return fmt.Errorf("empty audio clip")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	args := []string{
		"-nodisp", "-autoexit",
		"-loglevel", "error",
		"-af", "atempo=" + formatRate(rate),
		"-i", "pipe:0",
	}
	var stderr bytes.Buffer

	// One clip at a time.
	p.mu.Lock()
	p.stopLocked()
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return err
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = bytes.NewReader(c.Data)
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("starting %s: %w", p.binary, err)
	}
	run := &ffplayRun{cmd: cmd, done: make(chan struct{})}
	p.current = run
	p.mu.Unlock()

	slog.Debug("ffplay started", "bytes", len(c.Data), "content_type", c.ContentType, "rate", rate)

	err := cmd.Wait()
	close(run.done)

	p.mu.Lock()
	if p.current == run {
		p.current = nil
	}
	p.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case run.stopped.Load():
		return ErrStopped
	case err != nil:
		return fmt.Errorf("ffplay: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Stop kills the running ffplay process, if any, and waits for it to exit.
func (p *FFPlay) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// stopLocked kills the tracked run and waits for its Play to observe the
// exit. The caller holds mu.
func (p *FFPlay) stopLocked() {
	run := p.current
	if run == nil {
		return
	}
	p.current = nil
	run.stopped.Store(true)
	if run.cmd.Process != nil {
		_ = run.cmd.Process.Kill()
	}
	<-run.done
}

func formatRate(rate float64) string {
	if rate < 0.5 {
		rate = 0.5
	}
	if rate > 2.0 {
		rate = 2.0
	}
	return strconv.FormatFloat(rate, 'f', 2, 64)
}
