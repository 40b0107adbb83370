package frames

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type nativeCodec struct{}

func (nativeCodec) Decode(frame []byte, img Image) ([]byte, error) {
	if len(frame) < img.FrameSize() {
		return nil, fmt.Errorf("frame has %d bytes, expected %d", len(frame), img.FrameSize())
	}
	return frame[:img.FrameSize()], nil
}

func (nativeCodec) Encode(pixels []byte, img Image) ([]byte, error) {
	return pixels, nil
}

// bigEndianCodec swaps the bytes of samples wider than 8 bits
type bigEndianCodec struct{}

func (bigEndianCodec) Decode(frame []byte, img Image) ([]byte, error) {
	return swapSamples(frame, img)
}

func (bigEndianCodec) Encode(pixels []byte, img Image) ([]byte, error) {
	return swapSamples(pixels, img)
}

func swapSamples(in []byte, img Image) ([]byte, error) {
	width := img.BytesPerSample()
	if width <= 1 {
		return in, nil
	}
	if len(in)%width != 0 {
		return nil, fmt.Errorf("frame length %d is not a multiple of %d", len(in), width)
	}
	out := make([]byte, len(in))
	for i := 0; i < len(in); i += width {
		for j := 0; j < width; j++ {
			out[i+j] = in[i+width-1-j]
		}
	}
	return out, nil
}

// rleCodec implements RLE Lossless: one PackBits segment per byte plane,
// most significant byte first, behind a 64-byte header.
type rleCodec struct{}

const (
	rleHeaderSize  = 64
	rleMaxSegments = 15
)

var errRLE = errors.New("invalid RLE frame")

func (rleCodec) Decode(frame []byte, img Image) ([]byte, error) {
	if len(frame) < rleHeaderSize {
		return nil, errRLE
	}
	count := int(binary.LittleEndian.Uint32(frame))
	width := img.BytesPerSample()
	if count != width*img.SamplesPerPixel || count > rleMaxSegments {
		return nil, fmt.Errorf("%w: %d segments for %d samples of %d bytes", errRLE, count, img.SamplesPerPixel, width)
	}

	offsets := make([]int, count+1)
	for i := 0; i < count; i++ {
		offsets[i] = int(binary.LittleEndian.Uint32(frame[4+4*i:]))
	}
	offsets[count] = len(frame)

	pixelCount := img.Rows * img.Columns
	out := make([]byte, img.FrameSize())
	for s := 0; s < count; s++ {
		begin, end := offsets[s], offsets[s+1]
		if begin < rleHeaderSize || begin > end || end > len(frame) {
			return nil, fmt.Errorf("%w: bad segment offset", errRLE)
		}
		plane, err := unpackBits(frame[begin:end], pixelCount)
		if err != nil {
			return nil, err
		}
		sample, b := s/width, s%width
		for p := 0; p < pixelCount; p++ {
			out[(p*img.SamplesPerPixel+sample)*width+(width-1-b)] = plane[p]
		}
	}
	return out, nil
}

func (rleCodec) Encode(pixels []byte, img Image) ([]byte, error) {
	width := img.BytesPerSample()
	count := width * img.SamplesPerPixel
	if count > rleMaxSegments {
		return nil, fmt.Errorf("%w: %d segments needed", errRLE, count)
	}
	if len(pixels) < img.FrameSize() {
		return nil, fmt.Errorf("frame has %d bytes, expected %d", len(pixels), img.FrameSize())
	}

	pixelCount := img.Rows * img.Columns
	header := make([]byte, rleHeaderSize)
	binary.LittleEndian.PutUint32(header, uint32(count))

	var body bytes.Buffer
	plane := make([]byte, pixelCount)
	for s := 0; s < count; s++ {
		sample, b := s/width, s%width
		for p := 0; p < pixelCount; p++ {
			plane[p] = pixels[(p*img.SamplesPerPixel+sample)*width+(width-1-b)]
		}

		binary.LittleEndian.PutUint32(header[4+4*s:], uint32(rleHeaderSize+body.Len()))
		for row := 0; row < img.Rows; row++ {
			packBits(&body, plane[row*img.Columns:(row+1)*img.Columns])
		}
		if body.Len()%2 == 1 {
			body.WriteByte(0)
		}
	}
	return append(header, body.Bytes()...), nil
}

func unpackBits(in []byte, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for i := 0; i < len(in) && len(out) < size; {
		n := int(int8(in[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(in) {
				return nil, fmt.Errorf("%w: literal run past end of segment", errRLE)
			}
			out = append(out, in[i:i+n+1]...)
			i += n + 1
		case n > -128:
			if i >= len(in) {
				return nil, fmt.Errorf("%w: replicate run past end of segment", errRLE)
			}
			for j := 0; j < 1-n; j++ {
				out = append(out, in[i])
			}
			i++
		}
	}
	if len(out) < size {
		return nil, fmt.Errorf("%w: segment decodes to %d bytes, expected %d", errRLE, len(out), size)
	}
	return out[:size], nil
}

func packBits(out *bytes.Buffer, in []byte) {
	for i := 0; i < len(in); {
		// replicate run
		run := 1
		for i+run < len(in) && run < 128 && in[i+run] == in[i] {
			run++
		}
		if run > 1 {
			out.WriteByte(byte(1 - run))
			out.WriteByte(in[i])
			i += run
			continue
		}

		// literal run, up to the next pair of equal bytes
		start := i
		for i < len(in) && i-start < 128 {
			if i+1 < len(in) && in[i] == in[i+1] {
				break
			}
			i++
		}
		out.WriteByte(byte(i - start - 1))
		out.Write(in[start:i])
	}
}
