package attestation

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// OutputContractVersion names the backend output contract ParseVerdict
// understands: a line that is exactly "• true" or "• false".
const OutputContractVersion = "leo-bullet-v1"

const (
	trueToken  = "• true"
	falseToken = "• false"
)

var (
	// ErrUnrecognizedFormat means no verdict line was found.
	ErrUnrecognizedFormat = errors.New("unrecognized backend output format")

	// ErrConflictingVerdict means the output carried both verdict lines.
	ErrConflictingVerdict = errors.New("backend output contains both verdicts")
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// ParseError reports output that violates the backend contract.
type ParseError struct {
	Contract string
	Reason   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse backend output (contract %s): %v", e.Contract, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Reason
}

// maxVerdictLine bounds how much of one line is held while scanning. Longer
// lines cannot be a verdict and are skipped.
const maxVerdictLine = 4 << 10

// ParseVerdict extracts the boolean verdict from raw backend output.
// Absence of a verdict line is an error, never a negative verdict.
func ParseVerdict(raw string) (bool, error) {
	var s verdictScanner
	s.Write([]byte(raw))
	return s.Verdict()
}

// verdictScanner finds verdict lines in output written in arbitrary chunks.
type verdictScanner struct {
	line     []byte
	overflow bool
	sawTrue  bool
	sawFalse bool
}

func (s *verdictScanner) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			s.buffer(p)
			break
		}
		s.buffer(p[:i])
		s.endLine()
		p = p[i+1:]
	}
	return n, nil
}

func (s *verdictScanner) buffer(b []byte) {
	if s.overflow {
		return
	}
	if len(s.line)+len(b) > maxVerdictLine {
		s.overflow = true
		s.line = s.line[:0]
		return
	}
	s.line = append(s.line, b...)
}

func (s *verdictScanner) endLine() {
	if !s.overflow {
		switch strings.TrimSpace(ansiEscape.ReplaceAllString(string(s.line), "")) {
		case trueToken:
			s.sawTrue = true
		case falseToken:
			s.sawFalse = true
		}
	}
	s.line = s.line[:0]
	s.overflow = false
}

// Verdict closes any unterminated last line and reports what was seen.
func (s *verdictScanner) Verdict() (bool, error) {
	if len(s.line) > 0 || s.overflow {
		s.endLine()
	}
	switch {
	case s.sawTrue && s.sawFalse:
		return false, &ParseError{Contract: OutputContractVersion, Reason: ErrConflictingVerdict}
	case s.sawTrue:
		return true, nil
	case s.sawFalse:
		return false, nil
	default:
		return false, &ParseError{Contract: OutputContractVersion, Reason: ErrUnrecognizedFormat}
	}
}
