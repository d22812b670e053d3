package statusclient

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// eventReader splits a text/event-stream body into event payloads. Only
// data fields are kept; comments and other fields are skipped.
type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// Next returns the data of the next event. Multi-line data is joined with
// newlines.
func (er *eventReader) Next() ([]byte, error) {
	var data bytes.Buffer
	hasData := false
	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && !hasData {
				return nil, io.EOF
			}
			if err != io.EOF {
				return nil, err
			}
			// A final event without its blank line is discarded.
			return nil, io.ErrUnexpectedEOF
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if hasData {
				return data.Bytes(), nil
			}
		case strings.HasPrefix(line, ":"):
			// comment
		case line == "data" || strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(strings.TrimPrefix(line, "data"), ":")
			value = strings.TrimPrefix(value, " ")
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
}
