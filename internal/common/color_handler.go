package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ANSI color codes
const (
	Reset   = "\033[0m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"
)

// outcomeColors colors the result labels used by migration metrics and run
// history (result=..., status=...).
var outcomeColors = map[string]string{
	"applied":  Green,
	"migrated": Green,
	"noop":     Gray,
	"cleared":  Yellow,
	"failed":   Red,
}

// ColorHandler renders migration log lines for a terminal:
//
//	15:04:05.000 INF [library-migration] 3f1c….sdlibrary v1→v5 migrating document
//
// The component, document, version and from/to attributes are lifted into
// the line prefix; backfill progress and step outcomes are colored by meaning.
type ColorHandler struct {
	opts     *slog.HandlerOptions
	mu       *sync.Mutex
	writer   io.Writer
	attrs    []slog.Attr // already qualified with their group prefix
	prefix   string      // open groups joined with "."
	masker   *Masker
	useColor bool
}

// NewColorHandler creates a new color handler. Colors are only emitted when w
// is a terminal.
func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ColorHandler{
		opts:     opts,
		mu:       &sync.Mutex{},
		writer:   w,
		useColor: runtime.GOOS != "windows" && isTerminal(w),
		masker:   NewMasker(),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// Enabled reports whether the handler handles records at the given level
func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// migrationLine is a record split into the prefix fields and the rest.
type migrationLine struct {
	component string
	document  string
	version   *slog.Value
	from, to  *slog.Value
	rest      []slog.Attr
}

func (l *migrationLine) add(a slog.Attr) {
	v := a.Value
	switch a.Key {
	case "component":
		l.component = v.String()
	case "document":
		l.document = filepath.Base(v.String())
	case "version":
		l.version = &v
	case "from":
		l.from = &v
	case "to":
		l.to = &v
	default:
		l.rest = append(l.rest, a)
	}
}

// Handle handles the Record
func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	line := &migrationLine{}
	for _, a := range h.attrs {
		line.add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		for _, q := range h.qualify(a) {
			line.add(q)
		}
		return true
	})
	line.rest = h.maskAttributes(line.rest)

	var b strings.Builder
	if !r.Time.IsZero() {
		b.WriteString(h.colorize(Gray, r.Time.Format("15:04:05.000")))
		b.WriteByte(' ')
	}
	b.WriteString(h.formatLevel(r.Level))
	if line.component != "" {
		b.WriteByte(' ')
		b.WriteString(h.colorize(Cyan, "["+line.component+"]"))
	}
	if line.document != "" {
		b.WriteByte(' ')
		b.WriteString(h.colorize(Cyan, line.document))
	}
	if v := h.formatVersions(line); v != "" {
		b.WriteByte(' ')
		b.WriteString(h.colorize(Magenta, v))
	}
	b.WriteByte(' ')
	b.WriteString(h.colorize(White, r.Message))
	for _, a := range line.rest {
		b.WriteByte(' ')
		b.WriteString(h.colorize(Gray, a.Key+"="))
		b.WriteString(h.formatValue(a))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

// formatVersions renders "v1→v5" for a from/to pair and "v3" for a single version.
func (h *ColorHandler) formatVersions(l *migrationLine) string {
	switch {
	case l.from != nil && l.to != nil:
		return "v" + l.from.String() + "→v" + l.to.String()
	case l.version != nil:
		return "v" + l.version.String()
	case l.to != nil:
		return "→v" + l.to.String()
	default:
		return ""
	}
}

// formatLevel formats the log level with appropriate colors
func (h *ColorHandler) formatLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.colorize(Red, "ERR")
	case level >= slog.LevelWarn:
		return h.colorize(Yellow, "WRN")
	case level >= slog.LevelInfo:
		return h.colorize(Green, "INF")
	default:
		return h.colorize(Gray, "DBG")
	}
}

// formatValue colors a value by what its key means for a migration.
func (h *ColorHandler) formatValue(a slog.Attr) string {
	v := a.Value
	text := valueText(v)
	switch a.Key {
	case "error":
		return h.colorize(Red, text)
	case "result", "status":
		if c, ok := outcomeColors[strings.ToLower(v.String())]; ok {
			return h.colorize(c, text)
		}
	case "backfill":
		return h.colorize(Yellow, text)
	case "remaining", "failed", "cleared":
		// Counts of rows that did not convert cleanly.
		if isNonZero(v) {
			color := Yellow
			if a.Key == "remaining" {
				color = Red
			}
			return h.colorize(color, text)
		}
	case "converted", "steps":
		if isNonZero(v) {
			return h.colorize(Green, text)
		}
	}
	switch v.Kind() {
	case slog.KindInt64, slog.KindUint64, slog.KindFloat64:
		return h.colorize(Magenta, text)
	case slog.KindDuration:
		return h.colorize(Yellow, text)
	default:
		return text
	}
}

func valueText(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return strconv.Quote(err.Error())
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func isNonZero(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64() != 0
	case slog.KindUint64:
		return v.Uint64() != 0
	default:
		return false
	}
}

// colorize applies color to text if colors are enabled
func (h *ColorHandler) colorize(color, text string) string {
	if !h.useColor {
		return text
	}
	return color + text + Reset
}

// qualify resolves a and flattens groups into dotted keys under the
// handler's open groups. Empty groups are dropped.
func (h *ColorHandler) qualify(a slog.Attr) []slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return nil
	}
	key := a.Key
	if h.prefix != "" {
		key = h.prefix + "." + key
	}
	if a.Value.Kind() != slog.KindGroup {
		return []slog.Attr{{Key: key, Value: a.Value}}
	}
	var out []slog.Attr
	sub := &ColorHandler{prefix: key}
	if a.Key == "" {
		sub.prefix = h.prefix
	}
	for _, g := range a.Value.Group() {
		out = append(out, sub.qualify(g)...)
	}
	return out
}

// maskAttributes applies masking to attributes
func (h *ColorHandler) maskAttributes(attrs []slog.Attr) []slog.Attr {
	if h.masker == nil || !h.masker.IsEnabled() {
		return attrs
	}
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = a
		original := a.Value.Any()
		if s, ok := h.masker.MaskValue(a.Key, original).(string); ok {
			if orig, isStr := original.(string); !isStr || orig != s {
				masked[i] = slog.String(a.Key, s)
			}
		}
	}
	return masked
}

func (h *ColorHandler) clone() *ColorHandler {
	c := *h
	c.attrs = append([]slog.Attr{}, h.attrs...)
	return &c
}

// WithAttrs returns a new ColorHandler with the given attributes added
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.qualify(a)...)
	}
	return c
}

// WithGroup returns a new ColorHandler whose later attributes are keyed under name
func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	if c.prefix != "" {
		c.prefix += "."
	}
	c.prefix += name
	return c
}

// SetMasker sets the masker for this handler
func (h *ColorHandler) SetMasker(masker *Masker) {
	h.masker = masker
}

// SetColorEnabled enables or disables colors
func (h *ColorHandler) SetColorEnabled(enabled bool) {
	h.useColor = enabled
}
