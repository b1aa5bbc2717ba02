// internal/broker/wal/segment.go
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const segmentPrefix = "segment-"

// segment — один файл лога. positions[i] — позиция кадра с offset'ом base+i.
type segment struct {
	base      uint64
	path      string
	f         *os.File
	size      int64
	positions []int64
}

func segmentName(base uint64) string {
	return fmt.Sprintf("%s%020d", segmentPrefix, base)
}

// parseSegmentName возвращает base offset; ok=false для чужих файлов.
func parseSegmentName(name string) (base uint64, ok bool, err error) {
	if !strings.HasPrefix(name, segmentPrefix) {
		return 0, false, nil
	}
	digits := strings.TrimPrefix(name, segmentPrefix)
	if len(digits) != 20 {
		return 0, true, fmt.Errorf("wal: bad segment name %q", name)
	}
	base, err = strconv.ParseUint(digits, 10, 64)
	if err != nil || base == 0 {
		return 0, true, fmt.Errorf("wal: bad segment name %q", name)
	}
	return base, true, nil
}

func createSegment(dir string, base uint64) (*segment, error) {
	path := filepath.Join(dir, segmentName(base))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment: %w", err)
	}
	if err := syncDir(dir); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{base: base, path: path, f: f}, nil
}

func openSegment(dir string, base uint64) (*segment, error) {
	path := filepath.Join(dir, segmentName(base))
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: stat segment: %w", err)
	}
	return &segment{base: base, path: path, f: f, size: st.Size()}, nil
}

// last — последний offset сегмента (base-1 для пустого).
func (s *segment) last() uint64 {
	return s.base + uint64(len(s.positions)) - 1
}

func (s *segment) contains(off uint64) bool {
	return off >= s.base && off < s.base+uint64(len(s.positions))
}

// truncate отрезает хвост с позиции pos и делает fsync.
func (s *segment) truncate(pos int64) error {
	if err := s.f.Truncate(pos); err != nil {
		return fmt.Errorf("wal: truncate %s: %w", filepath.Base(s.path), err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync %s: %w", filepath.Base(s.path), err)
	}
	s.size = pos
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("wal: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("wal: sync dir: %w", err)
	}
	return nil
}
