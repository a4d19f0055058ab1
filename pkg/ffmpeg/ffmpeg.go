package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const stderrLimit = 8 << 10

type FFmpeg struct {
	path string
}

// RemuxOptions describes one RTMP to HLS remux without transcoding.
type RemuxOptions struct {
	InputURL       string
	PlaylistPath   string
	SegmentPattern string
	SegmentTime    int
	ListSize       int
}

func New(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{path: path}
}

func (f *FFmpeg) Path() string {
	return f.path
}

// RemuxArgs builds the ffmpeg arguments for opts. Codecs are copied so the
// publisher's encoding reaches viewers unchanged.
func (f *FFmpeg) RemuxArgs(opts RemuxOptions) []string {
	segmentTime := opts.SegmentTime
	if segmentTime <= 0 {
		segmentTime = 2
	}
	listSize := opts.ListSize
	if listSize <= 0 {
		listSize = 10
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", opts.InputURL,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentTime),
		"-hls_list_size", strconv.Itoa(listSize),
		"-hls_flags", "independent_segments",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", opts.SegmentPattern,
		opts.PlaylistPath,
	}
}

// Process is a running remux.
type Process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *limitedBuffer
	done   chan struct{}
	err    error
}

// StartRemux launches ffmpeg for opts. The process is killed when ctx is
// done or Stop is called.
func (f *FFmpeg) StartRemux(ctx context.Context, opts RemuxOptions) (*Process, error) {
	if opts.InputURL == "" || opts.PlaylistPath == "" || opts.SegmentPattern == "" {
		return nil, errors.New("ffmpeg remux needs an input, a playlist and a segment pattern")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.path, f.RemuxArgs(opts)...)
	cmd.WaitDelay = 5 * time.Second
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			p.err = fmt.Errorf("ffmpeg error: %v, stderr: %s", err, stderr.String())
		}
		close(p.done)
	}()
	return p, nil
}

// Wait blocks until the process exits. It returns nil when the exit was
// requested through Stop or the start context.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Stop() error {
	p.cancel()
	return p.Wait()
}

// limitedBuffer keeps the first limit bytes of ffmpeg's stderr.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
