package rtmp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"livecast/pkg/ffmpeg"
	"livecast/pkg/hls"
	utils "livecast/pkg/utils"
)

const segmentCleanupInterval = 10 * time.Second

type remuxJob struct {
	username string
	process  *ffmpeg.Process
	stop     chan struct{}
	done     chan struct{}
}

// HLSPackager remuxes confirmed publishes into HLS by pulling them back from
// this server's loopback play endpoint.
type HLSPackager struct {
	manager   *hls.HLSManager
	ffmpeg    *ffmpeg.FFmpeg
	inputBase string

	mu   sync.Mutex
	jobs map[string]*remuxJob
}

// NewHLSPackager creates a packager. inputBase is the local RTMP address
// streams are pulled from, e.g. rtmp://127.0.0.1:1935/live.
func NewHLSPackager(manager *hls.HLSManager, ff *ffmpeg.FFmpeg, inputBase string) *HLSPackager {
	return &HLSPackager{
		manager:   manager,
		ffmpeg:    ff,
		inputBase: inputBase,
		jobs:      make(map[string]*remuxJob),
	}
}

func (p *HLSPackager) Start(entry *PendingPublish) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, running := p.jobs[entry.Key]; running {
		return nil
	}

	if err := p.manager.CreateStreamDirectory(entry.Username); err != nil {
		return err
	}

	process, err := p.ffmpeg.StartRemux(context.Background(), ffmpeg.RemuxOptions{
		InputURL:       fmt.Sprintf("%s/%s", p.inputBase, entry.Key),
		PlaylistPath:   p.manager.PlaylistPath(entry.Username),
		SegmentPattern: p.manager.SegmentPattern(entry.Username),
		SegmentTime:    p.manager.SegmentTime(),
		ListSize:       p.manager.MaxSegments(),
	})
	if err != nil {
		return err
	}

	job := &remuxJob{
		username: entry.Username,
		process:  process,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.jobs[entry.Key] = job
	go p.watch(job)

	utils.Logger.Infof("HLS packaging started for %s", entry.Username)
	return nil
}

// watch trims old segments until the job is stopped or ffmpeg exits.
func (p *HLSPackager) watch(job *remuxJob) {
	defer close(job.done)
	ticker := time.NewTicker(segmentCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-job.stop:
			return
		case <-job.process.Done():
			if err := job.process.Wait(); err != nil {
				utils.Logger.Errorf("HLS packaging for %s exited: %v", job.username, err)
			}
			return
		case <-ticker.C:
			if err := p.manager.CleanupOldSegments(job.username); err != nil {
				utils.Logger.Warnf("Failed to clean up segments for %s: %v", job.username, err)
			}
		}
	}
}

func (p *HLSPackager) Stop(key string) {
	p.mu.Lock()
	job, ok := p.jobs[key]
	delete(p.jobs, key)
	p.mu.Unlock()
	if !ok {
		return
	}

	close(job.stop)
	<-job.done
	if err := job.process.Stop(); err != nil {
		utils.Logger.Warnf("HLS packaging for %s stopped with error: %v", job.username, err)
	}
	if err := p.manager.Finalize(job.username); err != nil {
		utils.Logger.Warnf("Failed to finalize playlist for %s: %v", job.username, err)
	}
	utils.Logger.Infof("HLS packaging stopped for %s", job.username)
}

// Running reports how many remuxes are active.
func (p *HLSPackager) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Close stops every remux.
func (p *HLSPackager) Close() {
	p.mu.Lock()
	keys := make([]string, 0, len(p.jobs))
	for key := range p.jobs {
		keys = append(keys, key)
	}
	p.mu.Unlock()
	for _, key := range keys {
		p.Stop(key)
	}
}
