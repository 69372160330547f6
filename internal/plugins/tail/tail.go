// Package tail implements the tail input: it follows a glob of files,
// reading appended lines on a timed collector. Blocking file IO keeps
// the plugin isolated so collects run on their own task.
//
// Read positions survive restarts when a sqlite db file is configured.
package tail

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"sluice/internal/input"
	"sluice/internal/record"
)

const (
	defaultIntervalSec = 1
	defaultPruneDays   = 3
)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return "tail" }

func (*Plugin) Capabilities() []input.Capability {
	return []input.Capability{input.CapIsolated}
}

// fileMeta is the last observed stat of a watched file, used to decide
// whether a path needs another read pass.
type fileMeta struct {
	modTime time.Time
	size    int64
	inode   uint64
}

type state struct {
	ins       *input.Instance
	glob      string
	store     OffsetStore
	pruneDays int

	mu      sync.Mutex
	cursors map[string]*fileCursor
	stats   map[string]fileMeta
}

func (*Plugin) Init(ins *input.Instance) error {
	st := &state{
		ins:       ins,
		pruneDays: defaultPruneDays,
		cursors:   make(map[string]*fileCursor),
		stats:     make(map[string]fileMeta),
	}

	glob, ok := ins.GetProperty("path")
	if !ok || glob == "" {
		return errors.New("tail: no path glob provided")
	}
	st.glob = glob

	intervalSec := int64(defaultIntervalSec)
	var intervalNsec int64
	if v, ok := ins.GetProperty("interval_sec"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("tail: invalid interval_sec %q", v)
		}
		intervalSec = n
	}
	if v, ok := ins.GetProperty("interval_nsec"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("tail: invalid interval_nsec %q", v)
		}
		intervalNsec = n
	}
	if v, ok := ins.GetProperty("prune_days"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("tail: invalid prune_days %q", v)
		}
		st.pruneDays = n
	}

	if dbPath, ok := ins.GetProperty("db"); ok {
		store, err := newSQLiteStore(dbPath)
		if err != nil {
			return err
		}
		if err := store.CreateTable(); err != nil {
			store.Close()
			return err
		}
		st.store = store
	}

	ins.SetContext(st)
	if _, err := ins.SetCollectorTime(st.collect, intervalSec, intervalNsec); err != nil {
		return err
	}

	ins.Log().WithField("glob", st.glob).Info("tail input watching")
	return nil
}

func fileID(info os.FileInfo) (uint64, error) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino, nil
	}
	return 0, errors.New("could not read file inode")
}

// collect scans the glob once and reads every file that is new, grown,
// rewritten or rotated since the previous pass. Collects serialize on
// st.mu since each runs on its own task.
func (st *state) collect(ins *input.Instance) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	matches, err := filepath.Glob(st.glob)
	if err != nil {
		return fmt.Errorf("tail: bad glob %q: %w", st.glob, err)
	}

	var updated []fileCursor
	for _, path := range matches {
		absPath, err := filepath.Abs(path)
		if err != nil {
			ins.Log().WithField("path", path).WithError(err).Warn("skipping file")
			continue
		}
		info, err := os.Stat(absPath)
		if err != nil {
			ins.Log().WithField("path", path).WithError(err).Warn("skipping file")
			continue
		}
		if info.IsDir() {
			continue
		}
		inode, err := fileID(info)
		if err != nil {
			ins.Log().WithField("path", path).WithError(err).Warn("skipping file")
			continue
		}

		current := fileMeta{modTime: info.ModTime(), size: info.Size(), inode: inode}
		prev, seen := st.stats[absPath]
		if seen && current == prev {
			continue
		}
		if seen && (current.inode != prev.inode || current.size < prev.size) {
			// Rotated or truncated: the old cursor no longer applies.
			if old := st.cursors[absPath]; old != nil && st.store != nil {
				if err := st.store.Delete(old.Path, old.Inode); err != nil {
					ins.Log().WithError(err).Error("could not drop stale cursor")
				}
			}
			delete(st.cursors, absPath)
		}
		st.stats[absPath] = current

		cursor, err := st.readFile(absPath, inode, info.Size())
		if err != nil {
			ins.Log().WithField("path", absPath).WithError(err).Warn("could not read file")
			continue
		}
		updated = append(updated, *cursor)
	}

	if st.store != nil && len(updated) > 0 {
		if err := st.store.SaveAll(updated); err != nil {
			ins.Log().WithError(err).Error("could not persist cursors")
		}
	}
	return nil
}

// readFile consumes complete lines from the cursor position onward and
// appends them to the instance as one batch. A trailing partial line is
// left for a later pass.
func (st *state) readFile(path string, inode uint64, size int64) (*fileCursor, error) {
	cursor := st.cursors[path]
	if cursor == nil {
		cursor = &fileCursor{Path: path, Inode: inode}
		if st.store != nil {
			saved, err := st.store.Lookup(path, inode)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					st.ins.Log().WithField("path", path).WithError(err).Debug("no saved cursor")
				}
			} else {
				cursor = saved
			}
		}
		st.cursors[path] = cursor
	}

	if cursor.Offset > size {
		cursor.Offset = 0
		cursor.Line = 0
		if st.store != nil {
			if err := st.store.Delete(cursor.Path, cursor.Inode); err != nil {
				st.ins.Log().WithError(err).Error("could not drop stale cursor")
			}
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(cursor.Offset, io.SeekStart); err != nil {
		return nil, err
	}

	var (
		batch   []byte
		records int
		reader  = bufio.NewReader(file)
	)
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		cursor.Offset += int64(len(raw))
		cursor.Line++

		line := strings.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}

		batch, err = record.Append(batch, time.Now(), record.Record{
			"log":  line,
			"path": path,
			"line": cursor.Line,
		})
		if err != nil {
			return nil, err
		}
		records++
	}

	if records > 0 {
		st.ins.Append(batch, records)
	}
	return cursor, nil
}

func (*Plugin) Exit(ctx any) error {
	st, ok := ctx.(*state)
	if !ok {
		return nil
	}
	st.ins.Log().WithField("glob", st.glob).Info("stopping tail input")

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.store == nil {
		return nil
	}

	if st.pruneDays > 0 {
		deleted, err := st.store.Prune(time.Duration(st.pruneDays) * 24 * time.Hour)
		if err != nil {
			st.ins.Log().WithError(err).Error("could not prune old cursors")
		} else {
			st.ins.Log().Debugf("pruned %d old cursors from tail db", deleted)
		}
	}
	return st.store.Close()
}
