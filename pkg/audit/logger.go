package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newtron-network/cdoctl/pkg/util"
)

// Logger defines the interface for audit logging backends
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// RotationConfig bounds the live log at MaxSize bytes and keeps at most
// MaxBackups rotated files. Zero disables either limit.
type RotationConfig struct {
	MaxSize    int64
	MaxBackups int
}

// Rotated files are named <path>.<stamp>; the stamp sorts by age.
const backupStamp = "20060102-150405.000000000"

// maxEntry caps a single JSON line on read.
const maxEntry = 4 << 20

// FileLogger appends one JSON event per line. Query reads rotated files
// as well as the live one, oldest first.
type FileLogger struct {
	mu       sync.RWMutex
	path     string
	out      *os.File
	size     int64
	rotation RotationConfig
}

// NewFileLogger opens path for appending, creating missing directories.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.out, l.size = f, info.Size()
	return nil
}

// Path returns the log file location.
func (l *FileLogger) Path() string {
	return l.path
}

// Log writes event as a single line, rotating first when the live file
// has reached MaxSize.
func (l *FileLogger) Log(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotation.MaxSize > 0 && l.size >= l.rotation.MaxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	n, err := l.out.Write(data)
	l.size += int64(n)
	return err
}

// Query returns the events matching filter, oldest first.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var events []*Event
	for _, path := range append(l.backups(), l.path) {
		err := readEvents(path, func(e *Event) {
			if filter.Matches(e) {
				events = append(events, e)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return filter.page(events), nil
}

// Close closes the log file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// rotate moves the live file aside and reopens path. Logging continues on
// a fresh file even when the move fails.
func (l *FileLogger) rotate() error {
	if err := l.out.Close(); err != nil {
		return err
	}
	moveErr := os.Rename(l.path, l.backupName(time.Now()))
	if err := l.open(); err != nil {
		return err
	}
	if moveErr != nil {
		return moveErr
	}
	if l.rotation.MaxBackups > 0 {
		l.prune()
	}
	return nil
}

func (l *FileLogger) backupName(now time.Time) string {
	base := l.path + "." + now.Format(backupStamp)
	name := base
	for i := 1; ; i++ {
		if _, err := os.Lstat(name); errors.Is(err, fs.ErrNotExist) {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

// backups lists rotated files, oldest first.
func (l *FileLogger) backups() []string {
	entries, err := os.ReadDir(filepath.Dir(l.path))
	if err != nil {
		return nil
	}
	prefix := filepath.Base(l.path) + "."
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(filepath.Dir(l.path), e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

func (l *FileLogger) prune() {
	old := l.backups()
	for len(old) > l.rotation.MaxBackups {
		if err := os.Remove(old[0]); err != nil {
			util.Warnf("audit: removing %s: %v", old[0], err)
		}
		old = old[1:]
	}
}

// readEvents calls fn for every decodable line of path. A missing file
// holds no events.
func readEvents(path string, fn func(*Event)) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, maxEntry)
	for n := 1; scanner.Scan(); n++ {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		e := new(Event)
		if err := json.Unmarshal(scanner.Bytes(), e); err != nil {
			util.Warnf("audit: %s:%d: skipping malformed entry: %v", path, n, err)
			continue
		}
		fn(e)
	}
	return scanner.Err()
}

var defaultLogger atomic.Pointer[Logger]

// SetDefaultLogger sets the logger used by the package-level Log and Query.
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		defaultLogger.Store(nil)
		return
	}
	defaultLogger.Store(&logger)
}

// DefaultLogger returns the logger set by SetDefaultLogger, or nil.
func DefaultLogger() Logger {
	if p := defaultLogger.Load(); p != nil {
		return *p
	}
	return nil
}

// Log records event with the default logger; it is a no-op without one.
func Log(event *Event) error {
	if l := DefaultLogger(); l != nil {
		return l.Log(event)
	}
	return nil
}

// Query reads from the default logger.
func Query(filter Filter) ([]*Event, error) {
	if l := DefaultLogger(); l != nil {
		return l.Query(filter)
	}
	return nil, nil
}
