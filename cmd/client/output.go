package main

import (
	"bytes"
	"io"

	"github.com/fatih/color"
)

var serverNotice = []byte("[Server:")

// noticeWriter highlights server notices. The session writes one line per
// Write call.
type noticeWriter struct {
	out    io.Writer
	notice *color.Color
}

func newNoticeWriter(out io.Writer) *noticeWriter {
	return &noticeWriter{out: out, notice: color.New(color.FgCyan)}
}

func (w *noticeWriter) Write(p []byte) (int, error) {
	if !bytes.HasPrefix(p, serverNotice) {
		return w.out.Write(p)
	}
	line := bytes.TrimSuffix(p, []byte("\n"))
	if _, err := io.WriteString(w.out, w.notice.Sprint(string(line))+"\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}
