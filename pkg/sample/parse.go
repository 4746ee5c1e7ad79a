package sample

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Separator between fields of a client's output line
const Separator = ";"

// ParseError is returned when a client line does not match its schema.
type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to parse %q: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("unable to parse %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes one ';' separated line according to schema.
// Field order: ops;latency;jitter;throughput[;send_latency;send_jitter]
func Parse(line string, schema Schema) (Sample, error) {
	s := Sample{}
	line = strings.TrimSpace(line)
	fields := strings.Split(line, Separator)
	if len(fields) != schema.Fields() {
		return s, &ParseError{Line: line, Reason: fmt.Sprintf("expected %d fields, got %d", schema.Fields(), len(fields))}
	}
	ints := make([]uint64, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if i == 3 {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return s, &ParseError{Line: line, Reason: "throughput is not a number", Err: err}
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return s, &ParseError{Line: line, Reason: "throughput is not a finite number"}
			}
			s.Throughput = v
			continue
		}
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return s, &ParseError{Line: line, Reason: fmt.Sprintf("field %d is not an integer", i+1), Err: err}
		}
		ints[i] = v
	}
	s.Ops, s.Latency, s.Jitter = ints[0], ints[1], ints[2]
	if schema.SendBreakdown {
		sendLatency, sendJitter := ints[4], ints[5]
		s.SendLatency = &sendLatency
		s.SendJitter = &sendJitter
	}
	return s, nil
}

// LastLine returns the last non-empty line of a process' output.
// Benchmarks may log progress before the metrics line.
func LastLine(output []byte) string {
	lines := strings.Split(strings.ReplaceAll(string(output), "\r", ""), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
