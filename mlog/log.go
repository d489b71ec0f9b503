// Package mlog provides logging with log levels and fields, on top of log/slog.
//
// Each log level has a function to log with and without error. Each such
// function takes a varargs list of slog attributes. Variable data should be in
// attributes. Logging strings themselves should be constant, for easier log
// processing.
//
// The log levels can be configured per originating package, e.g. convert,
// eaxs. The configuration is application-global, so each Log instance uses the
// same log levels.
//
// Print* should be used for lines that always should be printed, regardless of
// configured log levels. Useful for startup logging and subcommands.
//
// Fatal* stops the program. Its log text is always printed.
package mlog

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logfmt enables output in logfmt, instead of output more suitable for
// command-line tools. Must be set early in a program lifecycle.
var Logfmt bool

const (
	LevelPrint slog.Level = 24 // Printed regardless of configured log level.
	LevelFatal slog.Level = 20 // Printed regardless of configured log level.
	LevelError slog.Level = slog.LevelError
	LevelInfo  slog.Level = slog.LevelInfo
	LevelDebug slog.Level = slog.LevelDebug
	LevelTrace slog.Level = -8
)

// Levels maps the configuration names of levels to their values.
var Levels = map[string]slog.Level{
	"print": LevelPrint,
	"fatal": LevelFatal,
	"error": LevelError,
	"info":  LevelInfo,
	"debug": LevelDebug,
	"trace": LevelTrace,
}

// LevelStrings is the reverse of Levels.
var LevelStrings = map[slog.Level]string{
	LevelPrint: "print",
	LevelFatal: "fatal",
	LevelError: "error",
	LevelInfo:  "info",
	LevelDebug: "debug",
	LevelTrace: "trace",
}

// Holds a map[string]slog.Level, mapping a package (field pkg in logs) to a log
// level. The empty string is the default/fallback log level.
var config atomic.Pointer[map[string]slog.Level]

var output struct {
	sync.Mutex
	w io.Writer
}

func init() {
	SetConfig(map[string]slog.Level{"": LevelError})
	output.w = os.Stderr
}

// SetConfig atomically sets the new log levels used by all Log instances.
func SetConfig(c map[string]slog.Level) {
	config.Store(&c)
}

// SetOutput replaces the writer log lines are written to, returning the
// previous writer.
func SetOutput(w io.Writer) io.Writer {
	output.Lock()
	defer output.Unlock()
	prev := output.w
	output.w = w
	return prev
}

type key string

// CidKey can be used with context.WithValue to store a "cid" in a context, for
// logging.
var CidKey key = "cid"

// Log wraps a slog.Logger, providing convenience functions.
type Log struct {
	*slog.Logger
}

// New returns a Log that adds a "pkg" attribute. If elog is nil, the default
// handler is used, writing to the output set with SetOutput.
func New(pkg string, elog *slog.Logger) Log {
	if elog == nil {
		elog = slog.New(&handler{})
	}
	return Log{elog}.WithPkg(pkg)
}

// WithPkg returns a copy that logs with attribute "pkg" set to pkg.
func (l Log) WithPkg(pkg string) Log {
	if h, ok := l.Logger.Handler().(*handler); ok {
		nh := *h
		nh.pkg = pkg
		return Log{slog.New(&nh)}
	}
	return Log{l.Logger.With(slog.String("pkg", pkg))}
}

// WithCid adds a attribute "cid".
func (l Log) WithCid(cid int64) Log {
	return l.With(slog.Int64("cid", cid))
}

// WithContext adds cid from context, if present.
func (l Log) WithContext(ctx context.Context) Log {
	cidv := ctx.Value(CidKey)
	if cidv == nil {
		return l
	}
	return l.WithCid(cidv.(int64))
}

// With adds attributes to to each logged line.
func (l Log) With(attrs ...slog.Attr) Log {
	if len(attrs) == 0 {
		return l
	}
	return Log{slog.New(l.Logger.Handler().WithAttrs(attrs))}
}

// Check logs an error if err is not nil. Intended for logging errors that are
// good to know, but would not influence program flow.
func (l Log) Check(err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		l.Errorx(msg, err, attrs...)
	}
}

func errAttr(err error) slog.Attr {
	return slog.Any("err", err)
}

func (l Log) Fatal(msg string, attrs ...slog.Attr) { l.Fatalx(msg, nil, attrs...) }
func (l Log) Fatalx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelFatal, err, msg, attrs...)
	os.Exit(1)
}

func (l Log) Print(msg string, attrs ...slog.Attr) { l.Printx(msg, nil, attrs...) }
func (l Log) Printx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelPrint, err, msg, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) { l.Errorx(msg, nil, attrs...) }
func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelError, err, msg, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) { l.Infox(msg, nil, attrs...) }
func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelInfo, err, msg, attrs...)
}

func (l Log) Debug(msg string, attrs ...slog.Attr) { l.Debugx(msg, nil, attrs...) }
func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	l.logx(LevelDebug, err, msg, attrs...)
}

func (l Log) Trace(msg string, attrs ...slog.Attr) {
	l.logx(LevelTrace, nil, msg, attrs...)
}

func (l Log) logx(level slog.Level, err error, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if !l.Logger.Enabled(ctx, level) {
		return
	}
	if err != nil {
		attrs = append([]slog.Attr{errAttr(err)}, attrs...)
	}
	l.Logger.LogAttrs(ctx, level, msg, attrs...)
}

// handler formats records in the mlog line format, filtering on the levels
// configured for its package.
type handler struct {
	pkg   string
	attrs []slog.Attr
	group string
}

var _ slog.Handler = (*handler)(nil)

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level == LevelPrint || level == LevelFatal {
		return true
	}
	cl := *config.Load()
	if v, ok := cl[h.pkg]; ok {
		return level >= v
	}
	v, ok := cl[""]
	return ok && level >= v
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		if a.Key == "pkg" {
			nh.pkg = a.Value.String()
			continue
		}
		nh.attrs = append(append([]slog.Attr{}, nh.attrs...), a)
	}
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	if nh.group != "" {
		nh.group += "."
	}
	nh.group += name
	return &nh
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		attrs = append(attrs, a)
		return true
	})
	if cidv := ctx.Value(CidKey); cidv != nil {
		attrs = append(attrs, slog.Int64("cid", cidv.(int64)))
	}
	var errv string
	for i, a := range attrs {
		if a.Key == "err" {
			errv = stringValue(false, a.Value.Any())
			attrs = append(attrs[:i:i], attrs[i+1:]...)
			break
		}
	}
	if h.pkg != "" {
		attrs = append([]slog.Attr{slog.String("pkg", h.pkg)}, attrs...)
	}

	level := LevelStrings[r.Level]
	if level == "" {
		level = r.Level.String()
	}

	// We build up a buffer so we can do a single write of the data. Otherwise
	// partial log lines may interleave.
	b := &bytes.Buffer{}
	if Logfmt {
		fmt.Fprintf(b, "l=%s m=%s", level, logfmtValue(r.Message))
		if errv != "" {
			fmt.Fprintf(b, " err=%s", logfmtValue(errv))
		}
		for _, a := range attrs {
			fmt.Fprintf(b, " %s=%s", a.Key, logfmtValue(stringValue(a.Key == "cid", a.Value.Any())))
		}
	} else {
		fmt.Fprintf(b, "%s: %s", level, logfmtValue(r.Message))
		if errv != "" {
			fmt.Fprintf(b, ": %s", logfmtValue(errv))
		}
		if len(attrs) > 0 {
			b.WriteString(" (")
			for i, a := range attrs {
				if i > 0 {
					b.WriteString("; ")
				}
				fmt.Fprintf(b, "%s: %s", a.Key, logfmtValue(stringValue(a.Key == "cid", a.Value.Any())))
			}
			b.WriteString(")")
		}
	}
	b.WriteString("\n")

	output.Lock()
	defer output.Unlock()
	_, err := output.w.Write(b.Bytes())
	return err
}

// escape logfmt string if required, otherwise return original string.
func logfmtValue(s string) string {
	for _, c := range s {
		if c == '"' || c == '\\' || c <= ' ' || c == '=' || c >= 0x7f {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

func stringValue(iscid bool, v any) string {
	// Handle some common types first.
	if v == nil {
		return ""
	}
	switch r := v.(type) {
	case string:
		return r
	case int:
		return strconv.Itoa(r)
	case int64:
		if iscid {
			return fmt.Sprintf("%x", v)
		}
		return strconv.FormatInt(r, 10)
	case bool:
		if r {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case time.Duration:
		return r.String()
	case []byte:
		return base64.RawURLEncoding.EncodeToString(r)
	case []string:
		return "[" + strings.Join(r, ",") + "]"
	case error:
		return r.Error()
	case fmt.Stringer:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return ""
		}
		return r.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return ""
		}
		return stringValue(iscid, rv.Elem().Interface())
	}
	return fmt.Sprintf("%v", v)
}
