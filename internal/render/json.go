package render

import (
	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
)

// Attribute is one attribute of a DICOM JSON object. Value holds strings,
// or nested objects for sequences.
type Attribute struct {
	VR          string
	Value       interface{}
	BulkDataURI string
}

// MarshalJSON emits Value whenever it is set, even when empty
func (a *Attribute) MarshalJSON() ([]byte, error) {
	switch {
	case a.BulkDataURI != "":
		return json.Marshal(struct {
			VR          string `json:"vr"`
			BulkDataURI string `json:"BulkDataURI"`
		}{a.VR, a.BulkDataURI})
	case a.Value != nil:
		return json.Marshal(struct {
			VR    string      `json:"vr"`
			Value interface{} `json:"Value"`
		}{a.VR, a.Value})
	default:
		return json.Marshal(struct {
			VR string `json:"vr"`
		}{a.VR})
	}
}

// Object is a DICOM JSON dataset keyed by 8-digit uppercase tags
type Object map[string]*Attribute

// JSONEmitter builds a DICOM JSON object
type JSONEmitter struct {
	obj Object
}

func NewJSONEmitter() *JSONEmitter {
	return &JSONEmitter{obj: Object{}}
}

// Object returns the collected attributes
func (e *JSONEmitter) Object() Object {
	return e.obj
}

func (e *JSONEmitter) Value(tag dictionary.Tag, vr, value string) {
	e.obj[tag.String()] = &Attribute{VR: vr, Value: []string{value}}
}

func (e *JSONEmitter) Bulk(tag dictionary.Tag, vr, uri string) {
	e.obj[tag.String()] = &Attribute{VR: vr, BulkDataURI: uri}
}

func (e *JSONEmitter) Sequence(tag dictionary.Tag, vr string, count int, item func(int, Visitor) error) error {
	items := make([]Object, 0, count)
	for i := 0; i < count; i++ {
		child := NewJSONEmitter()
		if err := item(i, child); err != nil {
			return err
		}
		items = append(items, child.obj)
	}
	e.obj[tag.String()] = &Attribute{VR: vr, Value: items}
	return nil
}

func (e *JSONEmitter) Bytes() ([]byte, error) {
	return json.Marshal(e.obj)
}

func (e *JSONEmitter) ContentType() string {
	return "application/dicom+json"
}
