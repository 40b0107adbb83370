package frames

import (
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
)

// Image is the pixel layout of an instance
type Image struct {
	Rows                      int
	Columns                   int
	BitsAllocated             int
	BitsStored                int
	SamplesPerPixel           int
	PixelRepresentation       int
	PlanarConfiguration       int
	NumberOfFrames            int
	PhotometricInterpretation string
}

// ImageOf reads the pixel layout of ds. Rows, Columns and Bits Allocated
// are required.
func ImageOf(ds *dicom.Dataset) (Image, error) {
	var img Image
	var ok bool

	if img.Rows, ok = ds.Int(dictionary.Rows); !ok || img.Rows <= 0 {
		return img, apierr.New(apierr.Internal, "missing or invalid Rows")
	}
	if img.Columns, ok = ds.Int(dictionary.Columns); !ok || img.Columns <= 0 {
		return img, apierr.New(apierr.Internal, "missing or invalid Columns")
	}
	if img.BitsAllocated, ok = ds.Int(dictionary.BitsAllocated); !ok || img.BitsAllocated <= 0 {
		return img, apierr.New(apierr.Internal, "missing or invalid Bits Allocated")
	}
	if img.SamplesPerPixel, ok = ds.Int(dictionary.SamplesPerPixel); !ok || img.SamplesPerPixel <= 0 {
		img.SamplesPerPixel = 1
	}
	if img.BitsStored, ok = ds.Int(dictionary.BitsStored); !ok {
		img.BitsStored = img.BitsAllocated
	}
	if img.NumberOfFrames, ok = ds.Int(dictionary.NumberOfFrames); !ok || img.NumberOfFrames <= 0 {
		img.NumberOfFrames = 1
	}
	img.PixelRepresentation, _ = ds.Int(dictionary.PixelRepresentation)
	img.PlanarConfiguration, _ = ds.Int(dictionary.PlanarConfiguration)
	img.PhotometricInterpretation = ds.String(dictionary.PhotometricInterpretation)
	return img, nil
}

// FrameSize returns the size in bytes of one uncompressed frame
func (img Image) FrameSize() int {
	bits := img.Rows * img.Columns * img.BitsAllocated * img.SamplesPerPixel
	return (bits + 7) / 8
}

// BytesPerSample returns the storage size of one sample
func (img Image) BytesPerSample() int {
	return (img.BitsAllocated + 7) / 8
}

// Split returns every frame of the pixel data of ds. Uncompressed frames
// alias the dataset.
func Split(ds *dicom.Dataset, img Image) ([][]byte, error) {
	pixels := ds.Get(dictionary.PixelData)
	if pixels == nil {
		return nil, apierr.New(apierr.BadRequest, "instance has no pixel data")
	}
	if pixels.Encapsulated {
		return splitFragments(pixels, img), nil
	}
	return splitNative(pixels.Value, img)
}

func splitNative(data []byte, img Image) ([][]byte, error) {
	size := img.FrameSize()
	if size == 0 || len(data) < size {
		return nil, apierr.Newf(apierr.Internal, "pixel data too short (%d bytes, frame size %d)", len(data), size)
	}

	// pixel data of odd length is padded with one byte
	if len(data)%size == 1 && len(data)%2 == 0 {
		data = data[:len(data)-1]
	}
	if len(data)%size != 0 {
		return nil, apierr.Newf(apierr.Internal, "pixel data length %d is not a multiple of the frame size %d", len(data), size)
	}

	count := len(data) / size
	out := make([][]byte, count)
	for i := range out {
		out[i] = data[i*size : (i+1)*size : (i+1)*size]
	}
	return out, nil
}

// splitFragments maps fragments to frames through the Basic Offset Table.
// Without a table, a single-frame image is made of all fragments and a
// multi-frame image has one fragment per frame.
func splitFragments(e *dicom.Element, img Image) [][]byte {
	if len(e.Offsets) > 0 {
		return splitByOffsets(e.Fragments, e.Offsets)
	}
	if img.NumberOfFrames <= 1 && len(e.Fragments) > 1 {
		return [][]byte{concat(e.Fragments)}
	}
	return e.Fragments
}

func splitByOffsets(fragments [][]byte, offsets []uint32) [][]byte {
	// offset of each fragment, counted from the first fragment item tag
	starts := make([]uint32, len(fragments))
	var pos uint32
	for i, f := range fragments {
		starts[i] = pos
		pos += 8 + uint32(len(f))
	}

	out := make([][]byte, 0, len(offsets))
	for k, begin := range offsets {
		end := pos
		if k+1 < len(offsets) {
			end = offsets[k+1]
		}
		var parts [][]byte
		for i, start := range starts {
			if start >= begin && start < end {
				parts = append(parts, fragments[i])
			}
		}
		out = append(out, concat(parts))
	}
	return out
}

func concat(parts [][]byte) []byte {
	switch len(parts) {
	case 0:
		return []byte{}
	case 1:
		return parts[0]
	}
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Frame is one frame of a response
type Frame struct {
	// Number is 1-based
	Number int
	Data   []byte
}

// Select picks frames by 1-based number, in request order. An empty list
// selects all frames.
func Select(all [][]byte, list []int) ([]Frame, error) {
	if len(list) == 0 {
		out := make([]Frame, len(all))
		for i, data := range all {
			out[i] = Frame{Number: i + 1, Data: data}
		}
		return out, nil
	}

	out := make([]Frame, 0, len(list))
	for _, n := range list {
		if n < 1 || n > len(all) {
			return nil, apierr.Newf(apierr.ParameterOutOfRange,
				"frame %d is out of range, the image has %d frames", n, len(all))
		}
		out = append(out, Frame{Number: n, Data: all[n-1]})
	}
	return out, nil
}
