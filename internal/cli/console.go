package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// traceErrors makes logged errors carry eris stack traces.
var traceErrors atomic.Bool

// ConsoleWriter renders zerolog JSON events as short colored lines.
type ConsoleWriter struct {
	out      io.Writer
	colorize colorstring.Colorize
	dumpAll  bool
	buffer   strings.Builder
	lock     sync.Mutex
}

// NewConsoleWriter writes to out. With color false the color tags are
// stripped; with debug true every event field is dumped below the message.
func NewConsoleWriter(out io.Writer, color, debug bool) *ConsoleWriter {
	return &ConsoleWriter{
		out: out,
		colorize: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: !color,
			Reset:   true,
		},
		dumpAll: debug,
	}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt[zerolog.LevelFieldName] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if module, ok := evt["module"].(string); ok {
		w.buffer.WriteString(module + ": ")
	}

	if evt[zerolog.LevelFieldName] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt[zerolog.MessageFieldName].(string)
	w.buffer.WriteString(msg)

	if path, ok := evt["path"].(string); ok {
		w.buffer.WriteString(" ")
		w.buffer.WriteString(simplifyPath(path))
	}
	if unchanged, ok := evt["unchanged"].(bool); ok && unchanged {
		w.buffer.WriteString(" (unchanged)")
	}

	if errorDetails, ok := evt[zerolog.ErrorFieldName].(string); ok {
		w.buffer.WriteString("\n  ")
		w.buffer.WriteString(strings.ReplaceAll(errorDetails, "\n", "\n  "))
	}

	if w.dumpAll {
		w.buffer.WriteString("\n")
		for _, name := range slices.Sorted(maps.Keys(evt)) {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	w.buffer.WriteString("[reset]\n")
	if _, err := io.WriteString(w.out, w.colorize.Color(w.buffer.String())); err != nil {
		return 0, err
	}
	return len(p), nil
}

// simplifyPath shortens absolute paths below the working directory.
func simplifyPath(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// newLogger builds the console logger for one invocation.
func newLogger(out io.Writer, color, verbose, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose || debug {
		level = zerolog.DebugLevel
	}
	traceErrors.Store(debug)
	return zerolog.New(NewConsoleWriter(out, color, debug)).Level(level)
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, traceErrors.Load())
	}
}
