package pipeline

import (
	"bufio"
	"bytes"
	"strings"

	appErr "gavel/pkg/errors"
)

// outputsMatch compares program output against the expected answer. Trailing
// whitespace on each line and trailing blank lines are ignored; everything
// else must match byte for byte. A non-nil error means the comparison could
// not be carried out, not that the outputs differ.
func outputsMatch(got, want []byte) (bool, error) {
	gotLines, err := normalizeLines(got)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.ValidationFailed, "normalize program output")
	}
	wantLines, err := normalizeLines(want)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.ValidationFailed, "normalize expected answer")
	}
	if len(gotLines) != len(wantLines) {
		return false, nil
	}
	for i := range gotLines {
		if gotLines[i] != wantLines[i] {
			return false, nil
		}
	}
	return true, nil
}

func normalizeLines(data []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), " \t\r"))
	}
	// A line past the buffer cap surfaces here; a silent truncation would
	// turn into a bogus verdict.
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}
