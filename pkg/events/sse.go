package events

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// WriteSSE writes e in the text/event-stream format.
func WriteSSE(w io.Writer, e Event) error {
	data := bytes.ReplaceAll(e.Data, []byte("\n"), []byte("\ndata: "))
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data)
	return err
}

// ReadSSE parses a text/event-stream from r and sends each event to out
// until r is exhausted or ctx is done. Comments and unknown fields are
// ignored.
func ReadSSE(ctx context.Context, r io.Reader, out chan<- Event) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	var name string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				ev := Event{Name: name, Data: []byte(strings.Join(data, "\n"))}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
