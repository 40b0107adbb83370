package frames

import (
	"sync"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/rs/zerolog/log"
)

// Codec converts one frame between its encoded form and uncompressed
// little endian pixels with interleaved samples.
type Codec interface {
	Decode(frame []byte, img Image) ([]byte, error)
	Encode(pixels []byte, img Image) ([]byte, error)
}

// Registry maps transfer syntaxes to codecs
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry with the uncompressed and RLE Lossless
// codecs, plus the JPEG, JPEG-LS lossless and JPEG 2000 syntaxes of the
// go-dicom codec registry.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(dicom.ImplicitVRLittleEndian, nativeCodec{})
	r.Register(dicom.ExplicitVRLittleEndian, nativeCodec{})
	r.Register(dicom.DeflatedExplicitVRLittleEndian, nativeCodec{})
	r.Register(dicom.ExplicitVRBigEndian, bigEndianCodec{})
	r.Register(dicom.RLELossless, rleCodec{})
	for _, ts := range librarySyntaxes {
		r.Register(ts, libraryCodec{syntax: ts})
	}
	return r
}

// Register adds or replaces the codec of ts
func (r *Registry) Register(ts string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[ts] = c
}

func (r *Registry) codec(ts string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[ts]
	return c, ok
}

// Transcode converts frames from source to target. Frames are returned
// untouched when both syntaxes share the same pixel encoding.
func (r *Registry) Transcode(frames []Frame, img Image, source, target string) ([]Frame, error) {
	if source == target || (dicom.IsNativeLittleEndian(source) && dicom.IsNativeLittleEndian(target)) {
		return frames, nil
	}

	decoder, ok := r.codec(source)
	if !ok {
		return nil, apierr.Newf(apierr.Internal, "cannot decode transfer syntax %s", source)
	}
	encoder, ok := r.codec(target)
	if !ok {
		return nil, apierr.Newf(apierr.Internal, "cannot encode transfer syntax %s", target)
	}

	log.Debug().
		Str("source", source).
		Str("target", target).
		Int("frames", len(frames)).
		Msg("Transcoding frames")

	out := make([]Frame, len(frames))
	for i, f := range frames {
		pixels, err := decoder.Decode(f.Data, img)
		if err != nil {
			return nil, apierr.Wrap(apierr.Internal, err, "failed to decode frame")
		}
		encoded, err := encoder.Encode(pixels, img)
		if err != nil {
			return nil, apierr.Wrap(apierr.Internal, err, "failed to encode frame")
		}
		out[i] = Frame{Number: f.Number, Data: encoded}
	}
	return out, nil
}

// Extract returns the frames of f selected by list, in the target
// transfer syntax.
func (r *Registry) Extract(f *dicom.File, source string, list []int, target string) ([]Frame, error) {
	img, err := ImageOf(f.Dataset)
	if err != nil {
		return nil, err
	}
	all, err := Split(f.Dataset, img)
	if err != nil {
		return nil, err
	}
	selected, err := Select(all, list)
	if err != nil {
		return nil, err
	}
	return r.Transcode(selected, img, source, target)
}
