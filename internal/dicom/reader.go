package dicom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
)

const (
	undefinedLength = 0xFFFFFFFF
	maxDepth        = 100
	preambleSize    = 128
)

var (
	ErrTruncated    = errors.New("dicom: truncated data")
	ErrInvalidVR    = errors.New("dicom: invalid VR")
	ErrTooDeep      = errors.New("dicom: sequence nesting too deep")
	ErrUnterminated = errors.New("dicom: unterminated item or sequence")
)

// File is a parsed DICOM instance
type File struct {
	Meta           *Dataset
	Dataset        *Dataset
	TransferSyntax string
}

// Parse reads a Part-10 file, or a bare dataset when the "DICM" marker is
// absent. Values alias data except for deflated datasets.
func Parse(data []byte) (*File, error) {
	f := &File{Meta: &Dataset{ByteOrder: binary.LittleEndian}}

	pos := 0
	if len(data) >= preambleSize+4 && string(data[preambleSize:preambleSize+4]) == "DICM" {
		pos = preambleSize + 4
	}

	meta := &reader{data: data, pos: pos, order: binary.LittleEndian, explicit: true}
	if err := meta.readMeta(f.Meta); err != nil {
		return nil, fmt.Errorf("failed to read file meta information: %w", err)
	}
	pos = meta.pos

	f.TransferSyntax = f.Meta.String(dictionary.TransferSyntaxUID)
	if f.TransferSyntax == "" {
		f.TransferSyntax = sniffTransferSyntax(data[pos:])
	}

	body := data[pos:]
	r := &reader{data: body, order: binary.LittleEndian, explicit: true}

	switch f.TransferSyntax {
	case ImplicitVRLittleEndian:
		r.explicit = false
	case ExplicitVRBigEndian:
		r.order = binary.BigEndian
	case DeflatedExplicitVRLittleEndian:
		inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("failed to inflate dataset: %w", err)
		}
		r.data = inflated
	}

	ds, err := r.readDataset(len(r.data), false)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	f.Dataset = ds

	return f, nil
}

// sniffTransferSyntax guesses the encoding of a dataset without meta
// information from the VR slot of its first element.
func sniffTransferSyntax(data []byte) string {
	if len(data) >= 6 && dictionary.IsKnownVR(string(data[4:6])) {
		return ExplicitVRLittleEndian
	}
	return ImplicitVRLittleEndian
}

type reader struct {
	data     []byte
	pos      int
	order    binary.ByteOrder
	explicit bool
	depth    int
}

func (r *reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return ErrTruncated
	}
	return nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := r.order.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := r.order.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) tag() (dictionary.Tag, error) {
	g, err := r.u16()
	if err != nil {
		return dictionary.Tag{}, err
	}
	e, err := r.u16()
	if err != nil {
		return dictionary.Tag{}, err
	}
	return dictionary.New(g, e), nil
}

func (r *reader) peekTag() (dictionary.Tag, bool) {
	if r.pos+4 > len(r.data) {
		return dictionary.Tag{}, false
	}
	return dictionary.New(r.order.Uint16(r.data[r.pos:]), r.order.Uint16(r.data[r.pos+2:])), true
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *reader) readMeta(meta *Dataset) error {
	end := -1
	for {
		t, ok := r.peekTag()
		if !ok || t.Group != 0x0002 {
			break
		}
		if end >= 0 && r.pos >= end {
			break
		}

		e, err := r.readElement()
		if err != nil {
			return err
		}
		meta.Set(e)

		if e.Tag == dictionary.FileMetaInformationGroupLength && len(e.Value) == 4 {
			end = r.pos + int(binary.LittleEndian.Uint32(e.Value))
		}
	}
	return nil
}

func isLongVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		return true
	}
	return false
}

// readDataset reads elements up to end, or up to an item delimiter when
// delimited is set.
func (r *reader) readDataset(end int, delimited bool) (*Dataset, error) {
	ds := &Dataset{ByteOrder: r.order}

	for {
		if delimited {
			t, ok := r.peekTag()
			if !ok {
				return nil, ErrUnterminated
			}
			if t == dictionary.ItemDelimitationItem {
				r.pos += 8
				break
			}
		} else if r.pos >= end {
			break
		}

		e, err := r.readElement()
		if err != nil {
			return nil, err
		}
		ds.Elements = append(ds.Elements, e)
	}

	sortElements(ds)
	return ds, nil
}

func (r *reader) readElement() (*Element, error) {
	t, err := r.tag()
	if err != nil {
		return nil, err
	}

	var vr string
	var length uint32

	if r.explicit {
		if err := r.need(2); err != nil {
			return nil, err
		}
		vr = string(r.data[r.pos : r.pos+2])
		r.pos += 2
		if vr[0] < 'A' || vr[0] > 'Z' || vr[1] < 'A' || vr[1] > 'Z' {
			return nil, fmt.Errorf("%w %q at %s", ErrInvalidVR, vr, t)
		}
		if isLongVR(vr) {
			r.pos += 2
			length, err = r.u32()
		} else {
			var l16 uint16
			l16, err = r.u16()
			length = uint32(l16)
		}
	} else {
		vr = dictionary.DictionaryVR(t)
		length, err = r.u32()
	}
	if err != nil {
		return nil, err
	}

	e := &Element{Tag: t, VR: vr}

	switch {
	case t == dictionary.PixelData && length == undefinedLength:
		e.Encapsulated = true
		if err := r.readFragments(e); err != nil {
			return nil, err
		}

	case vr == "SQ":
		items, err := r.readSequence(length)
		if err != nil {
			return nil, err
		}
		e.Items = items

	case length == undefinedLength:
		// UN of undefined length is an implicit little endian sequence
		saved := r.explicit
		r.explicit = false
		items, err := r.readSequence(length)
		r.explicit = saved
		if err != nil {
			return nil, err
		}
		e.VR = "SQ"
		e.Items = items

	default:
		value, err := r.bytes(length)
		if err != nil {
			return nil, err
		}
		e.Value = value
	}

	return e, nil
}

func (r *reader) readSequence(length uint32) ([]*Dataset, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxDepth {
		return nil, ErrTooDeep
	}

	end := -1
	if length != undefinedLength {
		if err := r.need(int(length)); err != nil {
			return nil, err
		}
		end = r.pos + int(length)
	}

	items := []*Dataset{}
	for {
		if end >= 0 && r.pos >= end {
			break
		}

		t, err := r.tag()
		if err != nil {
			if end < 0 {
				return nil, ErrUnterminated
			}
			return nil, err
		}
		itemLength, err := r.u32()
		if err != nil {
			return nil, err
		}

		if t == dictionary.SequenceDelimitationItem {
			break
		}
		if t != dictionary.Item {
			return nil, fmt.Errorf("dicom: unexpected tag %s in sequence", t)
		}

		var item *Dataset
		if itemLength == undefinedLength {
			item, err = r.readDataset(0, true)
		} else {
			if err := r.need(int(itemLength)); err != nil {
				return nil, err
			}
			item, err = r.readDataset(r.pos+int(itemLength), false)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

func (r *reader) readFragments(e *Element) error {
	first := true
	for {
		t, err := r.tag()
		if err != nil {
			return ErrUnterminated
		}
		length, err := r.u32()
		if err != nil {
			return err
		}

		if t == dictionary.SequenceDelimitationItem {
			break
		}
		if t != dictionary.Item {
			return fmt.Errorf("dicom: unexpected tag %s in pixel data", t)
		}

		value, err := r.bytes(length)
		if err != nil {
			return err
		}

		if first {
			first = false
			for i := 0; i+4 <= len(value); i += 4 {
				e.Offsets = append(e.Offsets, binary.LittleEndian.Uint32(value[i:]))
			}
			continue
		}
		e.Fragments = append(e.Fragments, value)
	}

	if e.Fragments == nil {
		e.Fragments = [][]byte{}
	}
	return nil
}

func sortElements(ds *Dataset) {
	for i := 1; i < len(ds.Elements); i++ {
		if ds.Elements[i].Tag.Less(ds.Elements[i-1].Tag) {
			sortDataset(ds)
			return
		}
	}
}
