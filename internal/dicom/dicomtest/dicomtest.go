// Package dicomtest builds DICOM Part-10 files for tests.
package dicomtest

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
)

// Str creates a textual element padded to even length
func Str(t dictionary.Tag, vr, value string) *dicom.Element {
	b := []byte(value)
	if len(b)%2 == 1 {
		if vr == "UI" {
			b = append(b, 0)
		} else {
			b = append(b, ' ')
		}
	}
	return &dicom.Element{Tag: t, VR: vr, Value: b}
}

// Raw creates an element with the given bytes
func Raw(t dictionary.Tag, vr string, value []byte) *dicom.Element {
	return &dicom.Element{Tag: t, VR: vr, Value: value}
}

// US creates a little endian unsigned short element
func US(t dictionary.Tag, values ...uint16) *dicom.Element {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return &dicom.Element{Tag: t, VR: "US", Value: b}
}

// UL creates a little endian unsigned long element
func UL(t dictionary.Tag, values ...uint32) *dicom.Element {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return &dicom.Element{Tag: t, VR: "UL", Value: b}
}

// FD creates a little endian double element
func FD(t dictionary.Tag, values ...float64) *dicom.Element {
	b := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return &dicom.Element{Tag: t, VR: "FD", Value: b}
}

// Seq creates a sequence of items, each a list of elements
func Seq(t dictionary.Tag, items ...[]*dicom.Element) *dicom.Element {
	e := &dicom.Element{Tag: t, VR: "SQ", Items: []*dicom.Dataset{}}
	for _, elems := range items {
		e.Items = append(e.Items, Dataset(elems...))
	}
	return e
}

// Encapsulated creates encapsulated pixel data
func Encapsulated(offsets []uint32, fragments ...[]byte) *dicom.Element {
	return &dicom.Element{
		Tag:          dictionary.PixelData,
		VR:           "OB",
		Fragments:    fragments,
		Offsets:      offsets,
		Encapsulated: true,
	}
}

// Dataset creates a parsed-like dataset from elements
func Dataset(elems ...*dicom.Element) *dicom.Dataset {
	ds := &dicom.Dataset{ByteOrder: binary.LittleEndian}
	ds.Elements = append(ds.Elements, elems...)
	sort.SliceStable(ds.Elements, func(i, j int) bool {
		return ds.Elements[i].Tag.Less(ds.Elements[j].Tag)
	})
	return ds
}

// Instance returns the identifying elements of an instance
func Instance(study, series, sop string) []*dicom.Element {
	return []*dicom.Element{
		Str(dictionary.SOPClassUID, "UI", "1.2.840.10008.5.1.4.1.1.7"),
		Str(dictionary.SOPInstanceUID, "UI", sop),
		Str(dictionary.StudyInstanceUID, "UI", study),
		Str(dictionary.SeriesInstanceUID, "UI", series),
	}
}

// File encodes elements as a Part-10 file in transfer syntax ts
func File(ts string, elems ...*dicom.Element) []byte {
	b, err := dicom.Encode(ts, Dataset(elems...))
	if err != nil {
		panic(err)
	}
	return b
}
