// Package output multiplexes the live output of concurrently running
// processes onto one pair of writers.
//
// Each process gets a region keyed by its handle ID. With a single active
// region bytes pass through untouched. With several, output is emitted one
// complete line at a time behind a coloured "[label]" prefix so lines from
// different processes never mix. In live mode a spinner status line listing
// the running processes is kept at the bottom of the terminal and redrawn on
// every tick.
//
// A passthrough line left unterminated stays open on its writer. The status
// line is not drawn while any line is open, and prefixed output first ends
// the open line, so neither can land in the middle of a child's text.
//
// Every method holds the multiplexer lock for its whole mutation, so a write
// or tick is atomic with respect to other callers.
package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/zjrosen/ferry/internal/log"
	"github.com/zjrosen/ferry/internal/process"
)

// Process is what the multiplexer needs to know about a handle.
type Process interface {
	ID() string
	Label() string
}

// Options configures rendering.
type Options struct {
	// Live enables the animated status line. Only useful on a terminal.
	Live bool
	// AlwaysPrefix prefixes lines with the label even for a single region.
	AlwaysPrefix bool
	// NoColor disables styling.
	NoColor bool
	// Width truncates the status line. Default 80.
	Width int
	// Spinner provides the status line frames. Default spinner.MiniDot.
	Spinner spinner.Spinner
}

var labelColors = []string{"6", "5", "3", "2", "4", "13", "14"}

type region struct {
	id      string
	label   string
	color   lipgloss.Style
	partial [2][]byte
	written [2]int
	ticks   int
	started time.Time
}

// Multiplexer owns the output writers for a run.
type Multiplexer struct {
	mu      sync.Mutex
	stdout  io.Writer
	stderr  io.Writer
	opts    Options
	regions map[string]*region
	order   []string
	next    int
	frame   int
	status  bool // status line currently drawn
	open    [2]bool

	renderer *lipgloss.Renderer
	errLabel lipgloss.Style
	dim      lipgloss.Style
}

// New creates a multiplexer writing process stdout to stdout and process
// stderr (and the status line) to stderr.
func New(stdout, stderr io.Writer, opts Options) *Multiplexer {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if len(opts.Spinner.Frames) == 0 {
		opts.Spinner = spinner.MiniDot
	}

	r := lipgloss.NewRenderer(stdout)
	if opts.NoColor {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Multiplexer{
		stdout:   stdout,
		stderr:   stderr,
		opts:     opts,
		regions:  make(map[string]*region),
		renderer: r,
		errLabel: r.NewStyle().Foreground(lipgloss.Color("1")),
		dim:      r.NewStyle().Faint(true),
	}
}

// InitProcess allocates the region for p. Calling it twice is a no-op.
func (m *Multiplexer) InitProcess(p Process) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.regions[p.ID()]; ok {
		return
	}
	m.regions[p.ID()] = &region{
		id:      p.ID(),
		label:   p.Label(),
		color:   m.renderer.NewStyle().Foreground(lipgloss.Color(labelColors[m.next%len(labelColors)])).Bold(true),
		started: time.Now(),
	}
	m.next++
	m.order = append(m.order, p.ID())
	log.Debug(log.CatOutput, "region allocated", "id", p.ID(), "label", p.Label(), "active", len(m.order))
	m.drawStatus()
}

// WriteProcessOutput appends b to p's region on the given stream.
func (m *Multiplexer) WriteProcessOutput(stream process.Stream, b []byte, p Process) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[p.ID()]
	if !ok {
		log.Warn(log.CatOutput, "write to unknown region", "id", p.ID())
		return
	}
	r.written[stream] += len(b)

	m.clearStatus()
	if len(m.order) <= 1 && !m.opts.AlwaysPrefix {
		m.passthrough(r, stream, b)
	} else {
		m.writeLines(r, stream, b)
	}
	m.drawStatus()
}

// TickProcess advances p's activity indicator without new output.
func (m *Multiplexer) TickProcess(p Process) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[p.ID()]
	if !ok {
		return
	}
	r.ticks++
	m.frame++
	m.drawStatus()
}

// FinishProcess flushes any partial lines of p and releases its region.
func (m *Multiplexer) FinishProcess(p Process) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[p.ID()]
	if !ok {
		return
	}
	m.clearStatus()
	for _, s := range []process.Stream{process.Stdout, process.Stderr} {
		if len(r.partial[s]) > 0 {
			m.writeLines(r, s, []byte{'\n'})
		}
		if m.open[s] && m.opts.Live {
			m.endLine(s)
		}
	}

	delete(m.regions, p.ID())
	for i, id := range m.order {
		if id == p.ID() {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	log.Debug(log.CatOutput, "region released", "id", p.ID(),
		"stdout_bytes", r.written[process.Stdout], "stderr_bytes", r.written[process.Stderr], "ticks", r.ticks)
	m.drawStatus()
}

// Active returns the labels of live regions in allocation order.
func (m *Multiplexer) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	labels := make([]string, 0, len(m.order))
	for _, id := range m.order {
		labels = append(labels, m.regions[id].label)
	}
	return labels
}

// Ticks returns how many ticks p's region received, or -1 if unknown.
func (m *Multiplexer) Ticks(p Process) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.regions[p.ID()]; ok {
		return r.ticks
	}
	return -1
}

func (m *Multiplexer) writer(s process.Stream) io.Writer {
	if s == process.Stderr {
		return m.stderr
	}
	return m.stdout
}

// writeLines emits every complete line of partial+b with the region prefix
// and keeps the remainder buffered.
func (m *Multiplexer) writeLines(r *region, s process.Stream, b []byte) {
	buf := append(r.partial[s], b...)
	var out bytes.Buffer
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		out.WriteString(m.prefix(r, s))
		out.Write(buf[:i+1])
		buf = buf[i+1:]
	}
	r.partial[s] = append([]byte(nil), buf...)
	if out.Len() > 0 {
		m.endLine(s)
		_, _ = m.writer(s).Write(out.Bytes())
	}
}

// passthrough writes bytes buffered while more regions were active followed
// by b, unprefixed.
func (m *Multiplexer) passthrough(r *region, s process.Stream, b []byte) {
	data := append(r.partial[s], b...)
	r.partial[s] = nil
	if len(data) == 0 {
		return
	}
	_, _ = m.writer(s).Write(data)
	m.open[s] = data[len(data)-1] != '\n'
}

// endLine terminates an unfinished passthrough line on s.
func (m *Multiplexer) endLine(s process.Stream) {
	if !m.open[s] {
		return
	}
	_, _ = io.WriteString(m.writer(s), "\n")
	m.open[s] = false
}

func (m *Multiplexer) prefix(r *region, s process.Stream) string {
	label := r.color.Render("[" + r.label + "]")
	if s == process.Stderr {
		label += m.errLabel.Render("!")
	}
	return label + " "
}

func (m *Multiplexer) clearStatus() {
	if !m.status {
		return
	}
	_, _ = io.WriteString(m.stderr, "\r"+ansi.EraseEntireLine)
	m.status = false
}

func (m *Multiplexer) drawStatus() {
	if !m.opts.Live {
		return
	}
	m.clearStatus()
	if len(m.order) == 0 || m.open[process.Stdout] || m.open[process.Stderr] {
		return
	}

	frames := m.opts.Spinner.Frames
	labels := make([]string, 0, len(m.order))
	for _, id := range m.order {
		r := m.regions[id]
		labels = append(labels, fmt.Sprintf("%s (%s)", r.label, time.Since(r.started).Truncate(time.Second)))
	}
	line := frames[m.frame%len(frames)] + " " + strings.Join(labels, ", ")
	line = ansi.Truncate(line, m.opts.Width, "…")

	_, _ = io.WriteString(m.stderr, m.dim.Render(line))
	m.status = true
}
