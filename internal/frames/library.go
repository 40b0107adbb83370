package frames

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cocosip/go-dicom/pkg/dicom/parser"
	"github.com/cocosip/go-dicom/pkg/imaging"
	"github.com/cocosip/go-dicom/pkg/imaging/codec"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"

	_ "github.com/cocosip/go-dicom-codec/jpeg/baseline"
	_ "github.com/cocosip/go-dicom-codec/jpeg/extended"
	_ "github.com/cocosip/go-dicom-codec/jpeg/lossless"
	_ "github.com/cocosip/go-dicom-codec/jpeg/lossless14sv1"
	_ "github.com/cocosip/go-dicom-codec/jpeg2000/lossless"
	_ "github.com/cocosip/go-dicom-codec/jpeg2000/lossy"
	_ "github.com/cocosip/go-dicom-codec/jpegls/lossless"
)

// librarySyntaxes are served by the go-dicom codec registry
var librarySyntaxes = []string{
	dicom.JPEGBaseline,
	dicom.JPEGExtended,
	dicom.JPEGLossless,
	dicom.JPEGLosslessSV1,
	dicom.JPEGLSLossless,
	dicom.JPEG2000Lossless,
	dicom.JPEG2000,
}

const secondaryCapture = "1.2.840.10008.5.1.4.1.1.7"

// libraryCodec converts frames of one compressed transfer syntax with the
// go-dicom transcoder. The transcoder works on parsed files, so every
// frame is staged as a single-frame Part-10 file.
type libraryCodec struct {
	syntax string
}

func (c libraryCodec) Decode(frame []byte, img Image) ([]byte, error) {
	pixels, err := transcodeFrame(frame, img, c.syntax, dicom.ExplicitVRLittleEndian)
	if err != nil {
		return nil, err
	}
	if len(pixels) < img.FrameSize() {
		return nil, fmt.Errorf("decoded frame has %d bytes, expected %d", len(pixels), img.FrameSize())
	}
	return pixels[:img.FrameSize()], nil
}

func (c libraryCodec) Encode(pixels []byte, img Image) ([]byte, error) {
	if len(pixels) < img.FrameSize() {
		return nil, fmt.Errorf("frame has %d bytes, expected %d", len(pixels), img.FrameSize())
	}
	return transcodeFrame(pixels[:img.FrameSize()], img, dicom.ExplicitVRLittleEndian, c.syntax)
}

func transcodeFrame(data []byte, img Image, from, to string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "dicomweb-frame-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	source, err := stage(dir, "source.dcm", from, frameDataset(data, img, dicom.IsEncapsulated(from)))
	if err != nil {
		return nil, err
	}
	// the target syntax is taken from a header-only file in that syntax
	target, err := stage(dir, "target.dcm", to, frameDataset(nil, img, false))
	if err != nil {
		return nil, err
	}

	src, err := parser.ParseFile(source, parser.WithReadOption(parser.ReadAll))
	if err != nil {
		return nil, fmt.Errorf("failed to read staged frame: %w", err)
	}
	dst, err := parser.ParseFile(target, parser.WithReadOption(parser.ReadAll))
	if err != nil {
		return nil, fmt.Errorf("failed to read staged header: %w", err)
	}
	if src.TransferSyntax == nil || dst.TransferSyntax == nil {
		return nil, fmt.Errorf("unknown transfer syntax %s or %s", from, to)
	}

	ds, err := codec.NewTranscoder(src.TransferSyntax, dst.TransferSyntax).Transcode(src.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to transcode %s to %s: %w", from, to, err)
	}
	pd, err := imaging.CreatePixelData(ds)
	if err != nil {
		return nil, err
	}
	if pd.FrameCount() < 1 {
		return nil, fmt.Errorf("transcoded dataset has no frame")
	}
	return pd.GetFrame(0)
}

func stage(dir, name, ts string, ds *dicom.Dataset) (string, error) {
	b, err := dicom.Encode(ts, ds)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// frameDataset builds a single-frame image holding data as native or
// encapsulated pixel data. A nil data leaves pixel data out.
func frameDataset(data []byte, img Image, encapsulated bool) *dicom.Dataset {
	photometric := img.PhotometricInterpretation
	if photometric == "" {
		photometric = "MONOCHROME2"
		if img.SamplesPerPixel == 3 {
			photometric = "RGB"
		}
	}
	bitsStored := img.BitsStored
	if bitsStored <= 0 || bitsStored > img.BitsAllocated {
		bitsStored = img.BitsAllocated
	}

	ds := dicom.NewDataset()
	ds.SetString(dictionary.SOPClassUID, "UI", secondaryCapture)
	ds.SetString(dictionary.SOPInstanceUID, "UI", "2.25.1")
	ds.Set(uint16Element(dictionary.SamplesPerPixel, img.SamplesPerPixel))
	ds.SetString(dictionary.PhotometricInterpretation, "CS", photometric)
	if img.SamplesPerPixel > 1 {
		ds.Set(uint16Element(dictionary.PlanarConfiguration, img.PlanarConfiguration))
	}
	ds.SetString(dictionary.NumberOfFrames, "IS", "1 ")
	ds.Set(uint16Element(dictionary.Rows, img.Rows))
	ds.Set(uint16Element(dictionary.Columns, img.Columns))
	ds.Set(uint16Element(dictionary.BitsAllocated, img.BitsAllocated))
	ds.Set(uint16Element(dictionary.BitsStored, bitsStored))
	ds.Set(uint16Element(dictionary.HighBit, bitsStored-1))
	ds.Set(uint16Element(dictionary.PixelRepresentation, img.PixelRepresentation))

	switch {
	case data == nil:
	case encapsulated:
		ds.Set(&dicom.Element{
			Tag:          dictionary.PixelData,
			VR:           "OB",
			Fragments:    [][]byte{data},
			Encapsulated: true,
		})
	default:
		vr := "OB"
		if img.BitsAllocated > 8 {
			vr = "OW"
		}
		ds.Set(&dicom.Element{Tag: dictionary.PixelData, VR: vr, Value: data})
	}
	return ds
}

func uint16Element(t dictionary.Tag, v int) *dicom.Element {
	b := []byte{byte(v), byte(v >> 8)}
	return &dicom.Element{Tag: t, VR: "US", Value: b}
}
