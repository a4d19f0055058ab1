package hls

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	PlaylistName  = "index.m3u8"
	segmentPrefix = "segment_"
	endList       = "#EXT-X-ENDLIST"
)

var ErrInvalidStreamName = errors.New("invalid stream name")

// HLSManager owns the on-disk layout of every stream's HLS output:
// <basePath>/<name>/index.m3u8 next to its segments.
type HLSManager struct {
	basePath    string
	segmentTime int
	maxSegments int
}

func NewManager(basePath string, segmentTime, maxSegments int) *HLSManager {
	if segmentTime <= 0 {
		segmentTime = 2
	}
	if maxSegments <= 0 {
		maxSegments = 10
	}
	return &HLSManager{
		basePath:    basePath,
		segmentTime: segmentTime,
		maxSegments: maxSegments,
	}
}

func (m *HLSManager) SegmentTime() int { return m.segmentTime }

func (m *HLSManager) MaxSegments() int { return m.maxSegments }

func (m *HLSManager) StreamDir(name string) string {
	return filepath.Join(m.basePath, name)
}

func (m *HLSManager) PlaylistPath(name string) string {
	return filepath.Join(m.StreamDir(name), PlaylistName)
}

// SegmentPattern is the printf pattern ffmpeg numbers segments with.
func (m *HLSManager) SegmentPattern(name string) string {
	return filepath.Join(m.StreamDir(name), segmentPrefix+"%05d.ts")
}

// CreateStreamDirectory prepares a clean directory for a new broadcast.
// Output from a previous broadcast under the same name is discarded.
func (m *HLSManager) CreateStreamDirectory(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	dir := m.StreamDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear directory %s: %v", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", dir, err)
	}
	return nil
}

// CleanupOldSegments deletes the oldest segments. The playlist window of
// maxSegments is kept along with the segment still being written.
func (m *HLSManager) CleanupOldSegments(name string) error {
	segments, err := m.getSegments(name)
	if err != nil {
		return err
	}

	keep := m.maxSegments + 1
	if len(segments) <= keep {
		return nil
	}

	segmentsToDelete := segments[:len(segments)-keep]
	for _, segment := range segmentsToDelete {
		path := filepath.Join(m.StreamDir(name), segment)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete segment %s: %v", segment, err)
		}
	}

	return nil
}

// Finalize marks the playlist as complete so players stop polling it.
func (m *HLSManager) Finalize(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	path := m.PlaylistPath(name)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read playlist: %v", err)
	}
	if strings.Contains(string(content), endList) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open playlist: %v", err)
	}
	defer f.Close()
	line := endList + "\n"
	if len(content) > 0 && content[len(content)-1] != '\n' {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to finalize playlist: %v", err)
	}
	return nil
}

func (m *HLSManager) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	return os.RemoveAll(m.StreamDir(name))
}

func (m *HLSManager) getSegments(name string) ([]string, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(m.StreamDir(name))
	if err != nil {
		return nil, err
	}

	var segments []string
	for _, file := range files {
		if !file.IsDir() && strings.HasPrefix(file.Name(), segmentPrefix) && strings.HasSuffix(file.Name(), ".ts") {
			segments = append(segments, file.Name())
		}
	}
	// zero padded, so lexical order is numeric order
	sort.Strings(segments)

	return segments, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrInvalidStreamName
	}
	return nil
}
