// Package nlog is Graft's process logger: leveled, timestamped, optionally
// rotated to a file. Adapted from the buffered nlog design used elsewhere in
// the storage stack, trimmed down to a single mutex-guarded writer since
// Graft's log volume does not warrant the double-buffer/flusher pipeline.
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevChar = "IWE"

// MaxSize is the file-rotation threshold; zero disables rotation.
var MaxSize int64 = 64 * 1024 * 1024

type logger struct {
	mu      sync.Mutex
	out     io.Writer
	file    *os.File
	dir     string
	role    string
	written int64
}

var (
	std   = &logger{out: os.Stderr}
	title string
)

// SetLogDirRole points the logger at a log directory; role is embedded in
// the rotated file name (e.g. "metastore", "pagestore", "client").
func SetLogDirRole(dir, role string) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.dir, std.role = dir, role
	if dir == "" {
		std.out = os.Stderr
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "nlog: cannot create log dir %s: %v\n", dir, err)
		return
	}
	if err := std.rotate(); err != nil {
		fmt.Fprintf(os.Stderr, "nlog: cannot open log file: %v\n", err)
	}
}

func SetTitle(s string) { title = s }

func (l *logger) rotate() error {
	if l.file != nil {
		l.file.Close()
	}
	name := fmt.Sprintf("%s.%s.%d.log", l.role, time.Now().Format("20060102-150405"), os.Getpid())
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.out = f
	l.written = 0
	if title != "" {
		f.WriteString(title + "\n")
	}
	return nil
}

func (l *logger) log(sev severity, depth int, format string, args ...any) {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 2); ok {
		if idx := strings.LastIndexByte(fn, '/'); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	l.mu.Lock()
	n, _ := io.WriteString(l.out, b.String())
	l.written += int64(n)
	if l.file != nil && sev >= sevErr {
		fmt.Fprint(os.Stderr, b.String())
	}
	if l.file != nil && MaxSize > 0 && l.written >= MaxSize {
		l.rotate()
	}
	l.mu.Unlock()
}

func Infof(format string, args ...any)    { std.log(sevInfo, 0, format, args...) }
func Infoln(args ...any)                  { std.log(sevInfo, 0, "", args...) }
func InfoDepth(depth int, args ...any)    { std.log(sevInfo, depth, "", args...) }
func Warningf(format string, args ...any) { std.log(sevWarn, 0, format, args...) }
func Warningln(args ...any)               { std.log(sevWarn, 0, "", args...) }
func Errorf(format string, args ...any)   { std.log(sevErr, 0, format, args...) }
func Errorln(args ...any)                 { std.log(sevErr, 0, "", args...) }
func ErrorDepth(depth int, args ...any)   { std.log(sevErr, depth, "", args...) }

// Flush syncs the output to stable storage when it is an *os.File. The
// logger writes synchronously, so there is no in-process buffer to drain.
func Flush() {
	std.mu.Lock()
	defer std.mu.Unlock()
	if f, ok := std.out.(*os.File); ok {
		f.Sync()
	}
}
