package dicom

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
)

// Element is one data element. Exactly one of Value, Items or Fragments
// carries the payload.
type Element struct {
	Tag   dictionary.Tag
	VR    string
	Value []byte

	// Items holds the nested datasets of a sequence
	Items []*Dataset

	// Fragments holds encapsulated pixel data, without the offset table
	Fragments    [][]byte
	Offsets      []uint32
	Encapsulated bool
}

// IsSequence reports whether the element holds items
func (e *Element) IsSequence() bool {
	return e.VR == "SQ" || e.Items != nil
}

// Dataset is an ordered list of elements, ascending by tag
type Dataset struct {
	Elements  []*Element
	ByteOrder binary.ByteOrder

	// Synthetic datasets are built in memory and hold text for every VR
	Synthetic bool
}

// NewDataset creates an empty in-memory dataset
func NewDataset() *Dataset {
	return &Dataset{ByteOrder: binary.LittleEndian, Synthetic: true}
}

func (d *Dataset) index(t dictionary.Tag) int {
	return sort.Search(len(d.Elements), func(i int) bool {
		return !d.Elements[i].Tag.Less(t)
	})
}

// Get returns the element with tag t, or nil
func (d *Dataset) Get(t dictionary.Tag) *Element {
	if d == nil {
		return nil
	}
	i := d.index(t)
	if i < len(d.Elements) && d.Elements[i].Tag == t {
		return d.Elements[i]
	}
	return nil
}

// Set inserts e, replacing any element with the same tag
func (d *Dataset) Set(e *Element) {
	i := d.index(e.Tag)
	if i < len(d.Elements) && d.Elements[i].Tag == e.Tag {
		d.Elements[i] = e
		return
	}
	d.Elements = append(d.Elements, nil)
	copy(d.Elements[i+1:], d.Elements[i:])
	d.Elements[i] = e
}

// SetString sets a textual element
func (d *Dataset) SetString(t dictionary.Tag, vr, value string) {
	d.Set(&Element{Tag: t, VR: vr, Value: []byte(value)})
}

// SetSequence sets a sequence element
func (d *Dataset) SetSequence(t dictionary.Tag, items ...*Dataset) {
	if items == nil {
		items = []*Dataset{}
	}
	d.Set(&Element{Tag: t, VR: "SQ", Items: items})
}

// String returns the raw value of t with padding removed. It does not
// apply the character set and suits UIDs and code strings.
func (d *Dataset) String(t dictionary.Tag) string {
	e := d.Get(t)
	if e == nil {
		return ""
	}
	return trimValue(string(e.Value))
}

// Int reads the first value of t as an integer, from binary US, UL, SS, SL
// or from textual IS, DS.
func (d *Dataset) Int(t dictionary.Tag) (int, bool) {
	e := d.Get(t)
	if e == nil {
		return 0, false
	}

	if !d.Synthetic {
		switch e.VR {
		case "US":
			if len(e.Value) >= 2 {
				return int(d.ByteOrder.Uint16(e.Value)), true
			}
			return 0, false
		case "SS":
			if len(e.Value) >= 2 {
				return int(int16(d.ByteOrder.Uint16(e.Value))), true
			}
			return 0, false
		case "UL":
			if len(e.Value) >= 4 {
				return int(d.ByteOrder.Uint32(e.Value)), true
			}
			return 0, false
		case "SL":
			if len(e.Value) >= 4 {
				return int(int32(d.ByteOrder.Uint32(e.Value))), true
			}
			return 0, false
		}
	}

	s := trimValue(string(e.Value))
	if i := strings.IndexByte(s, '\\'); i >= 0 {
		s = s[:i]
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return int(f), true
	}
	return 0, false
}

func trimValue(s string) string {
	return strings.TrimFunc(s, isPadding)
}

func isPadding(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n', '\v', '\f', 0:
		return true
	}
	return false
}

func sortDataset(ds *Dataset) {
	sort.SliceStable(ds.Elements, func(i, j int) bool {
		return ds.Elements[i].Tag.Less(ds.Elements[j].Tag)
	})
}
