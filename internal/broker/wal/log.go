// internal/broker/wal/log.go
package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/logger"
)

// FileOptions — параметры файлового лога.
type FileOptions struct {
	SegmentMaxBytes int64
	SyncMode        SyncMode
}

const defaultSegmentMaxBytes = 64 << 20

// FileStore — лог из сегментов segment-<base> в каталоге топика.
type FileStore struct {
	dir  string
	opts FileOptions
	log  *logger.Logger

	mu        sync.Mutex
	segments  []*segment
	active    *segment
	next      uint64
	recovered bool
	closed    bool
	failed    error // после неудачного fsync лог не принимает записи

	syncMu  sync.Mutex
	durable uint64 // последний offset, покрытый fsync (batch)
}

var _ Store = (*FileStore)(nil)

// NewFileStore не трогает диск: каталог сканируется в Recover.
func NewFileStore(dir string, opts FileOptions, log *logger.Logger) *FileStore {
	if opts.SegmentMaxBytes <= 0 {
		opts.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if opts.SyncMode == "" {
		opts.SyncMode = SyncBatch
	}
	return &FileStore{
		dir:  dir,
		opts: opts,
		log:  log.Named("wal").With(zap.String("dir", dir)),
	}
}

// -----------------------------------------------------------------------------
// Recovery
// -----------------------------------------------------------------------------

// Recover сканирует сегменты по порядку, проверяет CRC и непрерывность
// offset'ов, обрезает оборванный хвост последнего сегмента.
func (s *FileStore) Recover() (Recovery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recovered {
		return Recovery{}, fmt.Errorf("wal: recover called twice")
	}
	if s.closed {
		return Recovery{}, ErrClosed
	}

	bases, err := s.listSegments()
	if err != nil {
		return Recovery{}, err
	}

	var rec Recovery
	for i, base := range bases {
		seg, err := openSegment(s.dir, base)
		if err != nil {
			s.closeSegments()
			return Recovery{}, err
		}
		s.segments = append(s.segments, seg)

		if i > 0 {
			prev := s.segments[i-1]
			if prev.last()+1 != base {
				s.closeSegments()
				return Recovery{}, fmt.Errorf("%w: %s: expected base %d, got %d",
					ErrCorruptSegment, segmentName(base), prev.last()+1, base)
			}
		}

		isLast := i == len(bases)-1
		cut, err := scanSegment(seg, isLast)
		if err != nil {
			s.closeSegments()
			return Recovery{}, err
		}
		if cut > 0 {
			rec.TruncatedBytes = cut
			rec.TruncatedAt = filepath.Base(seg.path)
			s.log.Warn("wal: truncated torn tail",
				zap.String("segment", rec.TruncatedAt),
				zap.Int64("bytes", cut),
			)
		}
	}

	if len(s.segments) == 0 {
		seg, err := createSegment(s.dir, 1)
		if err != nil {
			return Recovery{}, err
		}
		s.segments = append(s.segments, seg)
	}
	s.active = s.segments[len(s.segments)-1]
	s.next = s.active.last() + 1
	s.durable = s.next - 1
	s.recovered = true

	rec.Segments = len(s.segments)
	if s.next > s.segments[0].base {
		rec.First = s.segments[0].base
		rec.Last = s.next - 1
	}
	s.log.Info("wal: recovered",
		zap.Uint64("first", rec.First),
		zap.Uint64("last", rec.Last),
		zap.Int("segments", rec.Segments),
	)
	return rec, nil
}

func (s *FileStore) listSegments() ([]uint64, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoValidSegment, s.dir, err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoValidSegment, s.dir, err)
	}

	var (
		bases []uint64
		bad   int
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base, ok, err := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		if err != nil {
			bad++
			s.log.Warn("wal: skipping unparsable segment", zap.String("name", e.Name()))
			continue
		}
		bases = append(bases, base)
	}
	if len(bases) == 0 && bad > 0 {
		return nil, fmt.Errorf("%w: %s: %d unparsable segment name(s)", ErrNoValidSegment, s.dir, bad)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// scanSegment заполняет seg.positions. Возвращает число отрезанных байт.
func scanSegment(seg *segment, isLast bool) (int64, error) {
	name := filepath.Base(seg.path)
	var pos int64
	for pos < seg.size {
		payload, next, err := readFrame(seg.f, pos, seg.size)
		switch {
		case errors.Is(err, errTornFrame):
			if !isLast {
				return 0, fmt.Errorf("%w: %s: torn frame at %d in sealed segment", ErrCorruptSegment, name, pos)
			}
			intact, err := frameFollows(seg, pos)
			if err != nil {
				return 0, fmt.Errorf("wal: read %s: %w", name, err)
			}
			if intact {
				return 0, fmt.Errorf("%w: %s: broken frame at %d followed by valid records", ErrCorruptSegment, name, pos)
			}
			cut := seg.size - pos
			return cut, seg.truncate(pos)
		case errors.Is(err, errChecksum):
			if isLast && next == seg.size {
				cut := seg.size - pos
				return cut, seg.truncate(pos)
			}
			return 0, fmt.Errorf("%w: %s: checksum mismatch at %d", ErrCorruptSegment, name, pos)
		case err != nil:
			return 0, fmt.Errorf("wal: read %s: %w", name, err)
		}

		cmd, err := decodeRecord(payload)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: bad record at %d: %v", ErrCorruptSegment, name, pos, err)
		}
		if want := seg.base + uint64(len(seg.positions)); cmd.Offset != want {
			return 0, fmt.Errorf("%w: %s: offset discontinuity at %d: expected %d, got %d",
				ErrCorruptSegment, name, pos, want, cmd.Offset)
		}
		seg.positions = append(seg.positions, pos)
		pos = next
	}
	return 0, nil
}

// frameFollows проверяет, есть ли после позиции pos целые записи.
func frameFollows(seg *segment, pos int64) (bool, error) {
	tail := make([]byte, seg.size-pos)
	if _, err := seg.f.ReadAt(tail, pos); err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	want := seg.base + uint64(len(seg.positions))
	return hasFrameAfter(tail, want), nil
}

// -----------------------------------------------------------------------------
// Append / Read
// -----------------------------------------------------------------------------

// Append назначает offset, пишет кадр и ждёт fsync согласно SyncMode.
func (s *FileStore) Append(cmd Command) (uint64, error) {
	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}

	off := s.next
	cmd.Offset = off
	if cmd.ProducedAt.IsZero() {
		cmd.ProducedAt = time.Now()
	}
	payload, err := encodeRecord(cmd)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	frame := appendFrame(make([]byte, 0, frameHeaderSize+len(payload)), payload)

	if s.active.size > 0 && s.active.size+int64(len(frame)) > s.opts.SegmentMaxBytes {
		if err := s.rotateLocked(); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}

	seg := s.active
	pos := seg.size
	if _, err := seg.f.WriteAt(frame, pos); err != nil {
		if terr := seg.f.Truncate(pos); terr != nil {
			s.failed = fmt.Errorf("wal: rollback after write error: %w", terr)
		}
		s.mu.Unlock()
		return 0, fmt.Errorf("wal: write: %w", err)
	}
	seg.size += int64(len(frame))
	seg.positions = append(seg.positions, pos)
	s.next++

	if s.opts.SyncMode == SyncAlways {
		if err := seg.f.Sync(); err != nil {
			s.failed = fmt.Errorf("wal: fsync: %w", err)
			err = s.failed
			s.mu.Unlock()
			return 0, err
		}
		s.mu.Unlock()
		return off, nil
	}
	s.mu.Unlock()

	if err := s.syncUpTo(off); err != nil {
		return 0, err
	}
	return off, nil
}

func (s *FileStore) writableLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case !s.recovered:
		return ErrNotRecovered
	case s.failed != nil:
		return s.failed
	}
	return nil
}

// rotateLocked запечатывает активный сегмент (fsync) и открывает новый.
func (s *FileStore) rotateLocked() error {
	if err := s.active.f.Sync(); err != nil {
		s.failed = fmt.Errorf("wal: fsync sealed segment: %w", err)
		return s.failed
	}
	seg, err := createSegment(s.dir, s.next)
	if err != nil {
		return err
	}
	s.log.Debug("wal: rotated segment",
		zap.String("sealed", filepath.Base(s.active.path)),
		zap.Uint64("base", seg.base),
	)
	s.segments = append(s.segments, seg)
	s.active = seg
	return nil
}

// syncUpTo — group commit: первый писатель делает fsync за всех, чьи
// записи уже легли в файл; остальные видят durable ≥ off и выходят.
func (s *FileStore) syncUpTo(off uint64) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.durable >= off {
		return nil
	}

	s.mu.Lock()
	if s.failed != nil {
		err := s.failed
		s.mu.Unlock()
		return err
	}
	f := s.active.f
	target := s.next - 1
	s.mu.Unlock()

	if err := f.Sync(); err != nil {
		err = fmt.Errorf("wal: fsync: %w", err)
		s.mu.Lock()
		s.failed = err
		s.mu.Unlock()
		return err
	}
	s.durable = target
	return nil
}

// Read перечитывает запись с диска.
func (s *FileStore) Read(off uint64) (Command, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Command{}, ErrClosed
	}
	if !s.recovered {
		s.mu.Unlock()
		return Command{}, ErrNotRecovered
	}
	i := sort.Search(len(s.segments), func(i int) bool { return s.segments[i].base > off }) - 1
	if i < 0 || !s.segments[i].contains(off) {
		s.mu.Unlock()
		return Command{}, fmt.Errorf("%w: %d", ErrNotFound, off)
	}
	seg := s.segments[i]
	pos := seg.positions[off-seg.base]
	f, size := seg.f, seg.size
	s.mu.Unlock()

	payload, _, err := readFrame(f, pos, size)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return Command{}, ErrClosed
		}
		return Command{}, fmt.Errorf("wal: read offset %d: %w", off, err)
	}
	cmd, err := decodeRecord(payload)
	if err != nil {
		return Command{}, fmt.Errorf("%w: offset %d: %v", ErrCorruptSegment, off, err)
	}
	return cmd, nil
}

// -----------------------------------------------------------------------------
// Sync / Close
// -----------------------------------------------------------------------------

// Sync сбрасывает активный сегмент на диск.
func (s *FileStore) Sync() error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	if s.closed || !s.recovered {
		s.mu.Unlock()
		return nil
	}
	f := s.active.f
	target := s.next - 1
	s.mu.Unlock()

	if err := f.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	s.durable = target
	return nil
}

// Close делает финальный fsync и закрывает файлы. Повторный вызов — no-op.
func (s *FileStore) Close() error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.active != nil {
		if serr := s.active.f.Sync(); serr != nil {
			err = multierr.Append(err, fmt.Errorf("wal: final sync: %w", serr))
		}
	}
	return multierr.Append(err, s.closeSegments())
}

func (s *FileStore) closeSegments() error {
	var err error
	for _, seg := range s.segments {
		if cerr := seg.f.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("wal: close %s: %w", filepath.Base(seg.path), cerr))
		}
	}
	s.segments = nil
	s.active = nil
	return err
}
