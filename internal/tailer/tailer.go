// Package tailer follows a log file on disk, turning each new line into
// a store entry. Pre-existing content is skipped: a tailer watches the
// future of a file, not its past.
package tailer

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vburojevic/uelog/internal/diag"
	"github.com/vburojevic/uelog/internal/domain"
)

const component = "FileTailer"

// maxLineBytes caps a single line; longer lines are diagnosed and
// skipped so a corrupt file cannot exhaust memory.
const maxLineBytes = 1024 * 1024

// Inserter is the slice of the store a tailer needs.
type Inserter interface {
	Insert(entry domain.Entry) (int64, error)
}

// Tailer polls one file for appended lines, handling rotation,
// truncation and delete/recreate.
type Tailer struct {
	store Inserter
	path  string
	name  string

	clk        clock.Clock
	interval   time.Duration
	retryDelay time.Duration

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup

	offset int64
}

// New creates a tailer for path. name labels the entries' category and
// defaults to the file name.
func New(store Inserter, path, name string) *Tailer {
	if name == "" {
		name = filepath.Base(path)
	}
	return &Tailer{
		store:      store,
		path:       path,
		name:       name,
		clk:        clock.New(),
		interval:   200 * time.Millisecond,
		retryDelay: time.Second,
	}
}

// Path returns the followed file path.
func (t *Tailer) Path() string { return t.path }

// Name returns the display name used as the entries' category.
func (t *Tailer) Name() string { return t.name }

// IsRunning reports whether the polling worker is active.
func (t *Tailer) IsRunning() bool { return t.running.Load() }

// Start begins following the file. If the file does not exist the
// failure is diagnosed and the tailer stays not-running; the caller
// decides whether that is fatal.
func (t *Tailer) Start() {
	if t.running.Load() {
		return
	}

	info, err := os.Stat(t.path)
	if err != nil {
		diag.Errorf(component, "File not found: %s", t.path)
		return
	}
	t.offset = info.Size()

	t.stop = make(chan struct{})
	t.running.Store(true)

	diag.Logf(component, "Started tailing: %s (as %s)", t.path, t.name)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.pollLoop()
	}()
}

// Stop signals the worker and waits for it to exit.
func (t *Tailer) Stop() {
	if !t.running.Swap(false) {
		return
	}
	close(t.stop)
	t.wg.Wait()
	diag.Logf(component, "Stopped tailing: %s", t.path)
}

func (t *Tailer) pollLoop() {
	ticker := t.clk.Ticker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}

		info, err := os.Stat(t.path)
		if err != nil {
			if os.IsNotExist(err) {
				// Deleted; wait for the file to reappear.
				if !t.sleep(t.retryDelay) {
					return
				}
				continue
			}
			diag.Errorf(component, "Error reading file: %v", err)
			if !t.sleep(t.retryDelay) {
				return
			}
			continue
		}

		size := info.Size()
		if size < t.offset {
			diag.Logf(component, "File rotated, resetting position: %s", t.path)
			t.offset = 0
		}
		if size > t.offset {
			if err := t.readNewLines(size); err != nil {
				diag.Errorf(component, "Error reading file: %v", err)
				if !t.sleep(t.retryDelay) {
					return
				}
			}
		}
	}
}

// sleep waits for d, returning false when the tailer is stopping.
func (t *Tailer) sleep(d time.Duration) bool {
	select {
	case <-t.stop:
		return false
	case <-t.clk.After(d):
		return true
	}
}

// readNewLines emits entries for complete lines between the saved
// offset and size. A trailing partial line stays unread until its
// newline arrives.
func (t *Tailer) readNewLines(size int64) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	pos := t.offset

	for pos < size {
		line, consumed, err := readLimitedLine(reader)
		if err == io.EOF {
			// Incomplete line; leave the offset before it.
			break
		}
		if err != nil {
			t.offset = pos
			return err
		}

		pos += int64(consumed)

		if line == nil {
			diag.Errorf(component, "Dropped oversized line (%d bytes): %s", consumed, t.path)
			continue
		}

		trimmed := strings.TrimRight(string(line), "\r\n")
		if trimmed == "" {
			continue
		}

		now := float64(time.Now().UnixNano()) / 1e9
		entry := domain.Entry{
			Source:     "file-tailer",
			Category:   t.name,
			Verbosity:  domain.VerbosityLog,
			Message:    trimmed,
			Timestamp:  now,
			ReceivedAt: now,
		}
		if _, err := t.store.Insert(entry); err != nil {
			diag.Errorf(component, "Failed to store line: %v", err)
		}
	}

	t.offset = pos
	return nil
}

// readLimitedLine reads up to and including the next newline. Bytes
// past maxLineBytes are consumed but discarded, so an oversized line
// never accumulates in memory; the line comes back nil in that case.
// Returns io.EOF when the data ends before a newline, with nothing
// consumed as far as the caller is concerned.
func readLimitedLine(r *bufio.Reader) (line []byte, consumed int, err error) {
	var buf []byte
	oversized := false

	for {
		frag, err := r.ReadSlice('\n')
		consumed += len(frag)
		if !oversized {
			buf = append(buf, frag...)
			if len(buf) > maxLineBytes {
				oversized = true
				buf = nil
			}
		}

		switch err {
		case nil:
			if oversized {
				return nil, consumed, nil
			}
			return buf, consumed, nil
		case bufio.ErrBufferFull:
			continue
		default:
			return nil, consumed, err
		}
	}
}
