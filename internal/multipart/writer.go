package multipart

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// NewBoundary returns a UUID-derived boundary
func NewBoundary() string {
	return uuid.NewString()
}

// ContentType builds the multipart/related header value for a part type
func ContentType(partType, boundary string) string {
	return fmt.Sprintf("multipart/related; type=%q; boundary=%s", partType, boundary)
}

// Writer emits a multipart/related stream part by part. Each part is
// flushed to the underlying writer as soon as it is complete. After the
// first write error every call returns that error.
type Writer struct {
	out      *bufio.Writer
	flusher  http.Flusher
	boundary string
	partType string
	err      error
	closed   bool
}

// NewWriter creates a writer over w for parts of partType
func NewWriter(w io.Writer, partType string) *Writer {
	mw := &Writer{
		out:      bufio.NewWriterSize(w, 64*1024),
		boundary: NewBoundary(),
		partType: partType,
	}
	if f, ok := w.(http.Flusher); ok {
		mw.flusher = f
	}
	return mw
}

// Boundary returns the boundary of the stream
func (w *Writer) Boundary() string {
	return w.boundary
}

// ContentType returns the header value announcing the stream
func (w *Writer) ContentType() string {
	return ContentType(w.partType, w.boundary)
}

// WritePart writes one part. An empty contentType uses the stream type.
// Extra headers are written in sorted key order.
func (w *Writer) WritePart(contentType string, data []byte, header map[string]string) error {
	if w.err != nil {
		return w.err
	}
	if contentType == "" {
		contentType = w.partType
	}

	w.writeString("\r\n--" + w.boundary + "\r\n")
	w.writeString("Content-Type: " + contentType + "\r\n")
	w.writeString("Content-Length: " + strconv.Itoa(len(data)) + "\r\n")

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.writeString(k + ": " + header[k] + "\r\n")
	}

	w.writeString("\r\n")
	if w.err == nil {
		_, w.err = w.out.Write(data)
	}

	return w.flush()
}

// Close writes the closing boundary
func (w *Writer) Close() error {
	if w.err != nil || w.closed {
		return w.err
	}
	w.closed = true
	w.writeString("\r\n--" + w.boundary + "--\r\n")
	return w.flush()
}

func (w *Writer) writeString(s string) {
	if w.err != nil {
		return
	}
	_, w.err = w.out.WriteString(s)
}

func (w *Writer) flush() error {
	if w.err != nil {
		return w.err
	}
	if w.err = w.out.Flush(); w.err != nil {
		return w.err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Encode builds a complete multipart body in memory, for outbound requests
func Encode(partType string, parts [][]byte) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := NewWriter(&buf, partType)
	for _, p := range parts {
		if err := w.WritePart("", p, nil); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.ContentType(), nil
}
