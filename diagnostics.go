package pyext

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one compiler message parsed from toolchain output.
type Diagnostic struct {
	File     string
	Line     int
	Column   int
	Severity string // error, warning, note
	Code     string // rustc error code (E0425), empty otherwise
	Message  string
}

// String formats the diagnostic like a compiler would.
func (d Diagnostic) String() string {
	var location string
	switch {
	case d.File != "" && d.Column > 0:
		location = fmt.Sprintf("%s:%d:%d: ", d.File, d.Line, d.Column)
	case d.File != "" && d.Line > 0:
		location = fmt.Sprintf("%s:%d: ", d.File, d.Line)
	case d.File != "":
		location = d.File + ": "
	}

	severity := d.Severity
	if d.Code != "" {
		severity = fmt.Sprintf("%s[%s]", severity, d.Code)
	}
	return fmt.Sprintf("%s%s: %s", location, severity, d.Message)
}

var (
	// gcc, clang, zig, go vet style: file:line[:col]: severity: message
	ccDiagnostic = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?:\s*(?:fatal\s+)?(error|warning|note):\s*(.*)$`)
	// go build style without severity: ./file.go:12:3: undefined: x
	goDiagnostic = regexp.MustCompile(`^(\S+\.go):(\d+):(\d+):\s*(.*)$`)
	// rustc headline: error[E0425]: message
	rustHeadline = regexp.MustCompile(`^(error|warning)(?:\[(E\d+)\])?:\s*(.*)$`)
	// rustc location line:  --> src/lib.rs:3:5
	rustLocation = regexp.MustCompile(`^\s*-->\s*(.+?):(\d+):(\d+)\s*$`)
)

// ParseDiagnostics extracts diagnostics from toolchain output lines.
//
// Parsing is best effort: unrecognized lines are ignored here but always
// remain available verbatim in the build output.
func ParseDiagnostics(lines []string) []Diagnostic {
	var diagnostics []Diagnostic
	var pendingRust *Diagnostic

	flushRust := func() {
		if pendingRust != nil {
			diagnostics = append(diagnostics, *pendingRust)
			pendingRust = nil
		}
	}

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")

		if m := rustLocation.FindStringSubmatch(line); m != nil && pendingRust != nil {
			pendingRust.File = m[1]
			pendingRust.Line, _ = strconv.Atoi(m[2])
			pendingRust.Column, _ = strconv.Atoi(m[3])
			flushRust()
			continue
		}

		if m := rustHeadline.FindStringSubmatch(line); m != nil {
			flushRust()
			// cargo's summary lines carry no location and add nothing
			if strings.HasPrefix(m[3], "could not compile") || strings.HasPrefix(m[3], "aborting due to") {
				continue
			}
			pendingRust = &Diagnostic{Severity: m[1], Code: m[2], Message: m[3]}
			continue
		}

		if m := ccDiagnostic.FindStringSubmatch(line); m != nil {
			flushRust()
			d := Diagnostic{File: m[1], Severity: m[4], Message: m[5]}
			d.Line, _ = strconv.Atoi(m[2])
			if m[3] != "" {
				d.Column, _ = strconv.Atoi(m[3])
			}
			diagnostics = append(diagnostics, d)
			continue
		}

		if m := goDiagnostic.FindStringSubmatch(line); m != nil {
			flushRust()
			d := Diagnostic{File: m[1], Severity: "error", Message: m[4]}
			d.Line, _ = strconv.Atoi(m[2])
			d.Column, _ = strconv.Atoi(m[3])
			diagnostics = append(diagnostics, d)
		}
	}

	flushRust()
	return diagnostics
}
