package progress

import (
	"io"
	"strings"
	"testing"
)

func TestDecoderFrames(t *testing.T) {
	body := ": connected\n\n" +
		"event: progress\n" +
		"data: {\"status\":\"starting\"}\n\n" +
		"\n" +
		"data: {\"a\":1,\r\n" +
		"data: \"b\":2}\r\n\r\n" +
		"retry: 100\n" +
		"data:{\"status\":\"completed\"}\n\n"

	dec := newDecoder(strings.NewReader(body))

	want := []frame{
		{event: "progress", data: `{"status":"starting"}`},
		{data: "{\"a\":1,\n\"b\":2}"},
		{data: `{"status":"completed"}`},
	}
	for i, w := range want {
		got, err := dec.next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("frame %d = %+v, want %+v", i, got, w)
		}
	}
	if _, err := dec.next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDecoderDropsUnterminatedFrame(t *testing.T) {
	dec := newDecoder(strings.NewReader("data: {\"status\":\"running\"}"))
	if _, err := dec.next(); err != io.EOF {
		t.Fatalf("expected EOF for unterminated frame, got %v", err)
	}
}

func TestDecoderSkipsOversizedFrame(t *testing.T) {
	huge := strings.Repeat("x", maxFrameBytes+1)
	half := strings.Repeat("y", maxFrameBytes/2+1)
	body := "event: progress\n" +
		"data: " + huge + "\n\n" +
		"data: " + half + "\n" +
		"data: " + half + "\n\n" +
		"data: {\"status\":\"running\"}\n\n"

	dec := newDecoder(strings.NewReader(body))

	want := []frame{
		{event: "progress", tooLarge: true},
		{tooLarge: true},
		{data: `{"status":"running"}`},
	}
	for i, w := range want {
		got, err := dec.next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("frame %d = {event:%q tooLarge:%v len(data):%d}, want %+v", i, got.event, got.tooLarge, len(got.data), w)
		}
	}
	if _, err := dec.next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}
