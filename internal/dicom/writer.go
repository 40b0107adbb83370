package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/flate"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
)

// Encode serialises ds as a Part-10 file in transfer syntax ts. Sequences
// and encapsulated pixel data use undefined lengths. File meta elements
// of ds are ignored and rebuilt from the dataset.
func Encode(ts string, ds *Dataset) ([]byte, error) {
	if ts == "" {
		return nil, fmt.Errorf("missing transfer syntax")
	}

	var body bytes.Buffer
	w := &encoder{buf: &body, order: binary.LittleEndian, explicit: true, source: ds.ByteOrder}
	switch ts {
	case ImplicitVRLittleEndian:
		w.explicit = false
	case ExplicitVRBigEndian:
		w.order = binary.BigEndian
	}
	w.dataset(ds)

	payload := body.Bytes()
	if ts == DeflatedExplicitVRLittleEndian {
		var compressed bytes.Buffer
		fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(payload); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		payload = compressed.Bytes()
	}

	var meta bytes.Buffer
	mw := &encoder{buf: &meta, order: binary.LittleEndian, explicit: true, source: binary.LittleEndian}
	mw.element(&Element{Tag: dictionary.New(0x0002, 0x0001), VR: "OB", Value: []byte{0, 1}})
	if e := ds.Get(dictionary.SOPClassUID); e != nil {
		mw.element(&Element{Tag: dictionary.MediaStorageSOPClassUID, VR: "UI", Value: e.Value})
	}
	if e := ds.Get(dictionary.SOPInstanceUID); e != nil {
		mw.element(&Element{Tag: dictionary.MediaStorageSOPInstanceUID, VR: "UI", Value: e.Value})
	}
	mw.element(&Element{Tag: dictionary.TransferSyntaxUID, VR: "UI", Value: []byte(ts)})

	var out bytes.Buffer
	out.Grow(132 + 12 + meta.Len() + len(payload))
	out.Write(make([]byte, 128))
	out.WriteString("DICM")
	gw := &encoder{buf: &out, order: binary.LittleEndian, explicit: true, source: binary.LittleEndian}
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(meta.Len()))
	gw.element(&Element{Tag: dictionary.FileMetaInformationGroupLength, VR: "UL", Value: length})
	out.Write(meta.Bytes())
	out.Write(payload)
	return out.Bytes(), nil
}

type encoder struct {
	buf      *bytes.Buffer
	order    binary.ByteOrder
	source   binary.ByteOrder
	explicit bool
}

func (w *encoder) u16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *encoder) u32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *encoder) tag(t dictionary.Tag) {
	w.u16(t.Group)
	w.u16(t.Element)
}

func (w *encoder) dataset(ds *Dataset) {
	for _, e := range ds.Elements {
		if e.Tag.Group == 0x0002 {
			continue
		}
		w.element(e)
	}
}

func (w *encoder) header(t dictionary.Tag, vr string, length uint32) {
	w.tag(t)
	if !w.explicit {
		w.u32(length)
		return
	}
	w.buf.WriteString(vr)
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		w.u16(0)
		w.u32(length)
	default:
		w.u16(uint16(length))
	}
}

func (w *encoder) element(e *Element) {
	switch {
	case e.Encapsulated:
		w.header(e.Tag, "OB", 0xFFFFFFFF)
		bot := make([]byte, 4*len(e.Offsets))
		for i, off := range e.Offsets {
			binary.LittleEndian.PutUint32(bot[4*i:], off)
		}
		w.item(bot)
		for _, f := range e.Fragments {
			w.item(pad(f, 0))
		}
		w.tag(dictionary.SequenceDelimitationItem)
		w.u32(0)

	case e.IsSequence():
		w.header(e.Tag, "SQ", 0xFFFFFFFF)
		for _, item := range e.Items {
			w.tag(dictionary.Item)
			w.u32(0xFFFFFFFF)
			w.dataset(item)
			w.tag(dictionary.ItemDelimitationItem)
			w.u32(0)
		}
		w.tag(dictionary.SequenceDelimitationItem)
		w.u32(0)

	default:
		value := e.Value
		if w.source != nil && w.source != w.order {
			value = swapValue(e.VR, value)
		}
		switch e.VR {
		case "UI", "OB", "UN":
			value = pad(value, 0)
		default:
			value = pad(value, ' ')
		}
		w.header(e.Tag, e.VR, uint32(len(value)))
		w.buf.Write(value)
	}
}

func (w *encoder) item(b []byte) {
	w.tag(dictionary.Item)
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func pad(b []byte, with byte) []byte {
	if len(b)%2 == 0 {
		return b
	}
	out := make([]byte, len(b)+1)
	copy(out, b)
	out[len(b)] = with
	return out
}

// swapValue reverses the byte order of every sample of a binary VR
func swapValue(vr string, value []byte) []byte {
	var size int
	switch vr {
	case "US", "SS", "OW", "AT":
		size = 2
	case "UL", "SL", "FL", "OF", "OL":
		size = 4
	case "FD", "OD", "SV", "UV", "OV":
		size = 8
	default:
		return value
	}
	out := make([]byte, len(value))
	for i := 0; i+size <= len(value); i += size {
		for j := 0; j < size; j++ {
			out[i+j] = value[i+size-1-j]
		}
	}
	return out
}
