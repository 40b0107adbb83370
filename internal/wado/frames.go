package wado

import (
	"context"
	"strconv"

	"github.com/otcheredev/dicomweb-gateway/internal/frames"
	"github.com/otcheredev/dicomweb-gateway/internal/multipart"
	"github.com/rs/zerolog/log"
)

// Frames extracts frames of an instance in the target transfer syntax.
// list holds 1-based frame numbers, nil selects all frames.
func (s *Service) Frames(ctx context.Context, id string, list []int, target string) ([]frames.Frame, error) {
	var source string
	if header, err := s.archive.InstanceHeader(ctx, id); err == nil {
		source = header["TransferSyntaxUID"]
	} else {
		log.Debug().Err(err).Str("instance", id).Msg("Cannot read file meta information from the archive")
	}

	f, err := s.parse(ctx, id)
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = f.TransferSyntax
	}

	return s.codecs.Extract(f, source, list, target)
}

// WriteFrames sends frames as parts of mw. When location is set, each
// part carries a Content-Location header with the URL of its frame.
func WriteFrames(mw *multipart.Writer, contentType, location string, list []frames.Frame) error {
	for _, f := range list {
		var header map[string]string
		if location != "" {
			header = map[string]string{"Content-Location": location + "/frames/" + strconv.Itoa(f.Number)}
		}
		if err := mw.WritePart(contentType, f.Data, header); err != nil {
			return err
		}
	}
	return nil
}
