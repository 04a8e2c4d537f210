package progress

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// maxFrameBytes caps the data one frame may carry. Larger frames are
// discarded, not buffered.
const maxFrameBytes = 1 << 20

// frame is one dispatched server-sent event. tooLarge frames carry no data.
type frame struct {
	event    string
	data     string
	tooLarge bool
}

// decoder splits a text/event-stream body into frames. Comment lines and
// unknown fields are skipped; a frame is dispatched on a blank line.
type decoder struct {
	r *bufio.Reader
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReaderSize(r, 4096)}
}

// next returns the next frame carrying data. It returns io.EOF when the
// body ends cleanly and the read error otherwise.
func (d *decoder) next() (frame, error) {
	var (
		f       frame
		data    []string
		size    int
		hasData bool
	)
	for {
		line, truncated, err := d.readLine()
		if err != nil {
			return frame{}, err
		}
		if line == "" && !truncated {
			if hasData {
				if !f.tooLarge {
					f.data = strings.Join(data, "\n")
				}
				return f, nil
			}
			f = frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.event = value
		case "data":
			hasData = true
			size += len(value)
			if truncated || size > maxFrameBytes {
				f.tooLarge = true
				data = nil
				continue
			}
			if !f.tooLarge {
				data = append(data, value)
			}
		}
	}
}

// readLine returns one line without its terminator. A line longer than
// maxFrameBytes is consumed whole but only its prefix is returned, with
// truncated set.
func (d *decoder) readLine() (string, bool, error) {
	var (
		buf       []byte
		truncated bool
	)
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !truncated {
			if len(buf)+len(chunk) > maxFrameBytes {
				truncated = true
				// Keep the field name so the caller can tell data from comments.
				if len(buf) < 16 {
					buf = append(buf, chunk[:min(len(chunk), 16)]...)
				}
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		break
	}
	line := strings.TrimSuffix(string(buf), "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, truncated, nil
}
