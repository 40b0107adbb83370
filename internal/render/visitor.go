// Package render serializes DICOM datasets to the DICOMweb Native DICOM
// Model, in its JSON and XML dialects.
package render

import (
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
	"github.com/otcheredev/dicomweb-gateway/internal/dicom"
	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"github.com/rs/zerolog/log"
)

const maxDepth = 100

// Visitor receives the attributes of a dataset in ascending tag order
type Visitor interface {
	// Value emits an attribute with a single string value
	Value(tag dictionary.Tag, vr, value string)

	// Bulk emits an attribute delivered by reference. Without uri the
	// attribute carries no value.
	Bulk(tag dictionary.Tag, vr, uri string)

	// Sequence emits a sequence of count items. item is called once per
	// item, in order, with the visitor collecting that item.
	Sequence(tag dictionary.Tag, vr string, count int, item func(index int, v Visitor) error) error
}

// Emitter is a Visitor producing a document
type Emitter interface {
	Visitor
	Bytes() ([]byte, error)
	ContentType() string
}

// NewEmitter returns a JSON or XML emitter
func NewEmitter(xml bool) Emitter {
	if xml {
		return NewXMLEmitter()
	}
	return NewJSONEmitter()
}

func resolveVR(tag dictionary.Tag, declared string) (string, bool) {
	if tag == dictionary.RetrieveURL {
		return "UR", false
	}
	return dictionary.ResolveVR(tag, declared)
}

// WalkDataset visits every element of a parsed dataset. Text values are
// decoded with the dataset's Specific Character Set, or fallback when it is
// not recognised. Bulk elements carry a BulkDataURI below bulkRoot, or no
// value when bulkRoot is empty.
func WalkDataset(v Visitor, ds *dicom.Dataset, fallback dicom.Charset, bulkRoot string) error {
	return walkDataset(v, ds, ds.DetectCharset(fallback), bulkRoot, 0)
}

func walkDataset(v Visitor, ds *dicom.Dataset, cs dicom.Charset, root string, depth int) error {
	if depth > maxDepth {
		return apierr.New(apierr.Internal, "sequence nesting too deep")
	}

	for _, e := range ds.Elements {
		vr, isSequence := resolveVR(e.Tag, e.VR)
		if e.Items != nil && !e.Encapsulated {
			vr, isSequence = "SQ", true
		}

		switch {
		case isSequence:
			path := e.Tag.Path()
			err := v.Sequence(e.Tag, vr, len(e.Items), func(i int, child Visitor) error {
				var childRoot string
				if root != "" {
					childRoot = root + path + "/" + strconv.Itoa(i+1) + "/"
				}
				return walkDataset(child, e.Items[i], cs, childRoot, depth+1)
			})
			if err != nil {
				return err
			}

		case e.Encapsulated || dictionary.IsBulk(vr):
			v.Bulk(e.Tag, vr, bulkURI(root, e.Tag))

		default:
			text, err := ds.Text(e, cs)
			if err != nil {
				log.Debug().Err(err).Str("tag", e.Tag.String()).Msg("Cannot decode value")
				text = ""
			}
			v.Value(e.Tag, vr, text)
		}
	}
	return nil
}

// SummaryEntry is one attribute of an archive tag summary
type SummaryEntry struct {
	Name  string          `json:"Name"`
	Type  string          `json:"Type"`
	Value json.RawMessage `json:"Value"`
}

// Summary is the archive's tag summary of an instance, keyed by tags in
// the gggg,eeee form
type Summary map[string]SummaryEntry

// String returns the trimmed string value of tag, or "" when the tag is
// absent or not a string
func (s Summary) String(tag dictionary.Tag) string {
	entry, ok := s[tag.Internal()]
	if !ok || entry.Type != "String" {
		return ""
	}
	var v string
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

// SetString adds or replaces a string attribute
func (s Summary) SetString(tag dictionary.Tag, value string) {
	raw, _ := json.Marshal(value)
	name, _ := dictionary.Keyword(tag)
	s[tag.Internal()] = SummaryEntry{Name: name, Type: "String", Value: raw}
}

// WalkSummary visits the attributes of an archive tag summary. Values that
// are neither strings nor sequences are emitted as bulk data, without a
// value when bulkRoot is empty.
func WalkSummary(v Visitor, s Summary, bulkRoot string) error {
	return walkSummary(v, s, bulkRoot, 0)
}

// bulkURI returns the bulk data URI of tag below root, or "" without root
func bulkURI(root string, tag dictionary.Tag) string {
	if root == "" {
		return ""
	}
	return root + tag.Path()
}

type summaryAttribute struct {
	tag   dictionary.Tag
	entry SummaryEntry
}

func walkSummary(v Visitor, s Summary, root string, depth int) error {
	if depth > maxDepth {
		return apierr.New(apierr.Internal, "sequence nesting too deep")
	}

	attrs := make([]summaryAttribute, 0, len(s))
	for key, entry := range s {
		tag, err := dictionary.ParseTag(key)
		if err != nil {
			return apierr.Wrap(apierr.Internal, err, "invalid tag in archive summary")
		}
		attrs = append(attrs, summaryAttribute{tag: tag, entry: entry})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].tag.Less(attrs[j].tag) })

	for _, a := range attrs {
		vr, isSequence := resolveVR(a.tag, "")
		isSequence = isSequence || a.entry.Type == "Sequence"

		switch {
		case isSequence:
			var items []Summary
			if a.entry.Type != "Sequence" {
				return apierr.Newf(apierr.Internal, "archive summary of %s is not a sequence", a.tag)
			}
			if err := json.Unmarshal(a.entry.Value, &items); err != nil {
				return apierr.Wrap(apierr.Internal, err, "invalid sequence in archive summary")
			}
			path := a.tag.Path()
			err := v.Sequence(a.tag, "SQ", len(items), func(i int, child Visitor) error {
				var childRoot string
				if root != "" {
					childRoot = root + path + "/" + strconv.Itoa(i+1) + "/"
				}
				return walkSummary(child, items[i], childRoot, depth+1)
			})
			if err != nil {
				return err
			}

		case a.entry.Type == "String":
			var text string
			if err := json.Unmarshal(a.entry.Value, &text); err != nil {
				v.Bulk(a.tag, vr, bulkURI(root, a.tag))
				continue
			}
			v.Value(a.tag, vr, text)

		default:
			v.Bulk(a.tag, vr, bulkURI(root, a.tag))
		}
	}
	return nil
}
