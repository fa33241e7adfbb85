package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// prettyHandler writes one line per record for local runs:
//
//	12:04:05.120 INFO  http.request method=GET status=200 dur=12ms
//
// Attributes bound with WithAttrs are rendered once and reused.
type prettyHandler struct {
	out    *lineWriter
	level  slog.Leveler
	source bool
	color  bool
	prefix string // group path, "a.b."
	bound  string // pre-rendered WithAttrs output
}

type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{out: &lineWriter{w: w}, level: slog.LevelInfo, color: color}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(h.paint(ts.Format("15:04:05.000"), ansiDim))
	b.WriteByte(' ')
	b.WriteString(h.levelLabel(r.Level))
	b.WriteByte(' ')
	b.WriteString(h.paint(r.Message, ansiBright))
	b.WriteString(h.bound)
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, h.prefix, a)
		return true
	})
	if h.source && r.PC != 0 {
		if f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next(); f.File != "" {
			b.WriteString(" src=")
			b.WriteString(h.paint(filepath.Base(f.File)+":"+strconv.Itoa(f.Line), ansiDim))
		}
	}
	b.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := io.WriteString(h.out.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.bound)
	for _, a := range attrs {
		h.writeAttr(&b, h.prefix, a)
	}
	cp := *h
	cp.bound = b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" && a.Value.Kind() != slog.KindGroup {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if key != "" {
			inner = prefix + key + "."
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, inner, ga)
		}
		return
	}

	key = prefix + key
	b.WriteByte(' ')
	if key == "duration_ms" {
		b.WriteString("dur=")
	} else {
		b.WriteString(key)
		b.WriteByte('=')
	}
	b.WriteString(h.styleValue(key, a.Value))
}

// styleValue colors the fields request and webhook logs carry; everything
// else is printed plain, quoted when it contains spaces or separators.
func (h *prettyHandler) styleValue(key string, v slog.Value) string {
	switch key {
	case "method":
		m := strings.ToUpper(strings.TrimSpace(v.String()))
		return h.paint(m, methodColor(m))
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "class":
		return h.paint(v.String(), classColor(v.String()))
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return h.paint(strconv.FormatInt(n, 10)+"ms", durationColor(n))
		}
	case "result", "outcome":
		s := strings.ToLower(strings.TrimSpace(v.String()))
		return h.paint(s, resultColor(s))
	case "err":
		return h.paint(quoteIfNeeded(v.String()), ansiRed)
	}
	return quoteIfNeeded(plainValue(v))
}

func (h *prettyHandler) levelLabel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return h.paint("ERROR", ansiRed)
	case l >= slog.LevelWarn:
		return h.paint("WARN ", ansiYellow)
	case l >= slog.LevelInfo:
		return h.paint("INFO ", ansiBlue)
	default:
		return h.paint("DEBUG", ansiMagenta)
	}
}

func (h *prettyHandler) paint(s, code string) string {
	if !h.color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	if !color {
		return s
	}
	return classColor(strconv.Itoa(code/100)+"xx") + s + ansiReset
}

func methodColor(m string) string {
	switch m {
	case "GET":
		return ansiBlue
	case "POST":
		return ansiGreen
	case "DELETE":
		return ansiRed
	default:
		return ansiMagenta
	}
}

func classColor(class string) string {
	switch class {
	case "5xx":
		return ansiRed
	case "4xx":
		return ansiYellow
	case "3xx":
		return ansiCyan
	default:
		return ansiGreen
	}
}

func durationColor(ms int64) string {
	switch {
	case ms >= 1000:
		return ansiRed
	case ms >= 250:
		return ansiYellow
	default:
		return ansiDim
	}
}

// resultColor groups webhook outcomes and request results.
func resultColor(result string) string {
	switch result {
	case "ok", "success", "recorded", "connected":
		return ansiGreen
	case "error", "server_error", "fail":
		return ansiRed
	case "client_error", "rejected", "duplicate", "not_attributable":
		return ansiYellow
	default:
		return ansiCyan
	}
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
