package multipart

import (
	"bytes"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultContentType is used for parts without a Content-Type header
const DefaultContentType = "application/octet-stream"

var crlf = []byte("\r\n")

// Part is one body part of a multipart/related message
type Part struct {
	ContentType string
	Header      textproto.MIMEHeader
	Data        []byte
}

// Parse splits body into its parts. Separators must start a line; the
// first one may also start the body without a preceding CRLF. Parts whose
// Content-Length header disagrees with the actual length are dropped.
// Part data aliases body.
func Parse(body []byte, boundary string) []Part {
	if boundary == "" {
		return nil
	}

	dash := []byte("--" + boundary)
	delimiter := append([]byte("\r\n"), dash...)

	var pos int
	if bytes.HasPrefix(body, dash) {
		pos = 0
	} else {
		idx := bytes.Index(body, delimiter)
		if idx < 0 {
			return nil
		}
		pos = idx + 2
	}

	var parts []Part
	for {
		p := pos + len(dash)
		if p > len(body) || bytes.HasPrefix(body[p:], []byte("--")) {
			break
		}

		eol := bytes.Index(body[p:], crlf)
		if eol < 0 {
			break
		}
		p += eol + 2

		next := bytes.Index(body[p:], delimiter)
		if next < 0 {
			log.Warn().Str("boundary", boundary).Msg("Multipart body has no closing boundary")
			break
		}

		if part, ok := parsePart(body[p : p+next]); ok {
			parts = append(parts, part)
		}

		pos = p + next + 2
	}

	return parts
}

func parsePart(chunk []byte) (Part, bool) {
	var headerBlock, content []byte

	if bytes.HasPrefix(chunk, crlf) {
		content = chunk[2:]
	} else {
		idx := bytes.Index(chunk, []byte("\r\n\r\n"))
		if idx < 0 {
			log.Warn().Msg("Dropping multipart part without header terminator")
			return Part{}, false
		}
		headerBlock = chunk[:idx]
		content = chunk[idx+4:]
	}

	part := Part{
		ContentType: DefaultContentType,
		Header:      make(textproto.MIMEHeader),
		Data:        content,
	}

	for _, line := range strings.Split(string(headerBlock), "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		part.Header.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	if ct := part.Header.Get("Content-Type"); ct != "" {
		part.ContentType = ct
	}

	if cl := part.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n != len(content) {
			log.Warn().
				Str("content_length", cl).
				Int("actual", len(content)).
				Msg("Dropping multipart part with mismatched Content-Length")
			return Part{}, false
		}
	}

	return part, true
}
