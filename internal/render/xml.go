package render

import (
	"bytes"
	"encoding/xml"
	"sort"

	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
)

const (
	nativeDicomNamespace = "http://dicom.nema.org/PS3.19/models/NativeDICOM"
	xsiNamespace         = "http://www.w3.org/2001/XMLSchema-instance"
	xmlDeclaration       = `<?xml version="1.0" encoding="utf-8"?>` + "\n"
)

type xmlModel struct {
	XMLName        xml.Name        `xml:"NativeDicomModel"`
	Xmlns          string          `xml:"xmlns,attr"`
	SchemaLocation string          `xml:"xsi:schemaLocation,attr"`
	XmlnsXsi       string          `xml:"xmlns:xsi,attr"`
	Attributes     []*xmlAttribute `xml:"DicomAttribute"`
}

type xmlAttribute struct {
	tag      dictionary.Tag
	Tag      string     `xml:"tag,attr"`
	VR       string     `xml:"vr,attr"`
	Keyword  string     `xml:"keyword,attr,omitempty"`
	Values   []xmlValue `xml:"Value"`
	Items    []*xmlItem `xml:"Item"`
	BulkData *xmlBulk   `xml:"BulkData"`
}

type xmlValue struct {
	Number int    `xml:"number,attr"`
	Text   string `xml:",chardata"`
}

type xmlItem struct {
	Number     int             `xml:"number,attr"`
	Attributes []*xmlAttribute `xml:"DicomAttribute"`
}

type xmlBulk struct {
	URI string `xml:"uri,attr"`
}

// XMLEmitter builds a NativeDicomModel document
type XMLEmitter struct {
	attrs []*xmlAttribute
}

func NewXMLEmitter() *XMLEmitter {
	return &XMLEmitter{}
}

func (e *XMLEmitter) attribute(tag dictionary.Tag, vr string) *xmlAttribute {
	a := &xmlAttribute{tag: tag, Tag: tag.String(), VR: vr}
	if keyword, ok := dictionary.Keyword(tag); ok {
		a.Keyword = keyword
	}
	e.attrs = append(e.attrs, a)
	return a
}

func (e *XMLEmitter) Value(tag dictionary.Tag, vr, value string) {
	a := e.attribute(tag, vr)
	a.Values = []xmlValue{{Number: 1, Text: value}}
}

func (e *XMLEmitter) Bulk(tag dictionary.Tag, vr, uri string) {
	a := e.attribute(tag, vr)
	if uri != "" {
		a.BulkData = &xmlBulk{URI: uri}
	}
}

func (e *XMLEmitter) Sequence(tag dictionary.Tag, vr string, count int, item func(int, Visitor) error) error {
	a := e.attribute(tag, vr)
	for i := 0; i < count; i++ {
		child := NewXMLEmitter()
		if err := item(i, child); err != nil {
			return err
		}
		a.Items = append(a.Items, &xmlItem{Number: i + 1, Attributes: child.sorted()})
	}
	return nil
}

func (e *XMLEmitter) sorted() []*xmlAttribute {
	sort.SliceStable(e.attrs, func(i, j int) bool { return e.attrs[i].tag.Less(e.attrs[j].tag) })
	return e.attrs
}

func (e *XMLEmitter) Bytes() ([]byte, error) {
	model := xmlModel{
		Xmlns:          nativeDicomNamespace,
		SchemaLocation: nativeDicomNamespace,
		XmlnsXsi:       xsiNamespace,
		Attributes:     e.sorted(),
	}

	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(model); err != nil {
		return nil, err
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func (e *XMLEmitter) ContentType() string {
	return "application/dicom+xml"
}
