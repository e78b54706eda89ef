// Package console renders inserted log entries as styled lines on the
// terminal, with a periodic one-line statistics refresh. It observes
// the store through the subscriber contract only.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/vburojevic/uelog/internal/domain"
)

// styles for the rendered line components.
var styles = struct {
	Fatal     lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Display   lipgloss.Style
	Log       lipgloss.Style
	Verbose   lipgloss.Style
	Timestamp lipgloss.Style
	Source    lipgloss.Style
	Category  lipgloss.Style
	Stats     lipgloss.Style
}{
	Fatal:     lipgloss.NewStyle().Foreground(lipgloss.Color("201")).Bold(true).Underline(true), // Magenta bold underline
	Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),                 // Red bold
	Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),                 // Orange
	Display:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),                             // Cyan
	Log:       lipgloss.NewStyle().Foreground(lipgloss.Color("252")),                            // White
	Verbose:   lipgloss.NewStyle().Foreground(lipgloss.Color("243")),                            // Gray
	Timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	Source:    lipgloss.NewStyle().Foreground(lipgloss.Color("33")),  // Blue
	Category:  lipgloss.NewStyle().Foreground(lipgloss.Color("142")), // Yellow-green
	Stats:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
}

func verbosityStyle(v domain.Verbosity) lipgloss.Style {
	switch v {
	case domain.VerbosityFatal:
		return styles.Fatal
	case domain.VerbosityError:
		return styles.Error
	case domain.VerbosityWarning:
		return styles.Warning
	case domain.VerbosityDisplay:
		return styles.Display
	case domain.VerbosityVerbose, domain.VerbosityVeryVerbose:
		return styles.Verbose
	default:
		return styles.Log
	}
}

// StatsProvider supplies the aggregate counts for the refresh line.
type StatsProvider interface {
	Stats(source *string, since *float64) (domain.Stats, error)
}

// Writer prints one line per inserted entry and, while started, a
// statistics line every refresh interval.
type Writer struct {
	out   io.Writer
	stats StatsProvider
	color bool

	clk      clock.Clock
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a writer for out. Styling is enabled only when out is a
// terminal.
func New(out io.Writer, stats StatsProvider) *Writer {
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{
		out:      out,
		stats:    stats,
		color:    color,
		clk:      clock.New(),
		interval: 30 * time.Second,
	}
}

// HandleEntry renders one entry. Registered as a store subscriber, so
// it must stay fast and never panic.
func (w *Writer) HandleEntry(entry domain.Entry) {
	ts := time.Unix(0, int64(entry.ReceivedAt*1e9)).Format("15:04:05")
	verbosity := entry.Verbosity.String()

	var line string
	if w.color {
		line = fmt.Sprintf("%s %s %s %s: %s",
			styles.Timestamp.Render(ts),
			styles.Source.Render(entry.Source),
			styles.Category.Render(entry.Category),
			verbosityStyle(entry.Verbosity).Render(verbosity),
			entry.Message)
	} else {
		line = fmt.Sprintf("%s %s %s %s: %s", ts, entry.Source, entry.Category, verbosity, entry.Message)
	}

	w.mu.Lock()
	fmt.Fprintln(w.out, line)
	w.mu.Unlock()
}

// Start launches the periodic statistics refresh.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.refreshLoop()
	}()
}

// Stop halts the refresh worker. Entry rendering keeps working; it is
// driven by the store, not by this worker.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Writer) refreshLoop() {
	ticker := w.clk.Ticker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.printStats()
		}
	}
}

func (w *Writer) printStats() {
	stats, err := w.stats.Stats(nil, nil)
	if err != nil {
		return
	}

	line := fmt.Sprintf("-- %d logs | %d errors | %d warnings | %d sessions | current: %s --",
		stats.Total, stats.Errors, stats.Warnings, stats.SessionCount, stats.CurrentSession)
	if w.color {
		line = styles.Stats.Render(line)
	}

	w.mu.Lock()
	fmt.Fprintln(w.out, line)
	w.mu.Unlock()
}
