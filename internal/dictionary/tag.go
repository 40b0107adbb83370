package dictionary

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
)

// Tag is a DICOM (group, element) pair
type Tag struct {
	Group   uint16
	Element uint16
}

// New creates a tag
func New(group, element uint16) Tag {
	return Tag{Group: group, Element: element}
}

// String returns the DICOMweb form, 8 uppercase hex digits
func (t Tag) String() string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// Internal returns the archive form "gggg,eeee" in lowercase
func (t Tag) Internal() string {
	return fmt.Sprintf("%04x,%04x", t.Group, t.Element)
}

// Path returns the lowercase 8-hex form used in bulk data URIs
func (t Tag) Path() string {
	return fmt.Sprintf("%04x%04x", t.Group, t.Element)
}

// Uint32 packs the tag for ordering
func (t Tag) Uint32() uint32 {
	return uint32(t.Group)<<16 | uint32(t.Element)
}

// Less orders tags by ascending value
func (t Tag) Less(other Tag) bool {
	return t.Uint32() < other.Uint32()
}

// IsPrivate returns true for odd groups
func (t Tag) IsPrivate() bool {
	return t.Group%2 == 1
}

// IsIllegal returns true for groups reserved by the standard
func (t Tag) IsIllegal() bool {
	switch t.Group {
	case 0x0001, 0x0003, 0x0005, 0x0007, 0xFFFF:
		return true
	}
	return false
}

// ParseTag accepts the DICOMweb form (8 hex digits), the archive form
// (gggg,eeee) or a keyword.
func ParseTag(key string) (Tag, error) {
	key = strings.TrimSpace(key)

	if strings.Contains(key, ".") {
		return Tag{}, apierr.Newf(apierr.NotImplemented, "hierarchical queries are not supported: %s", key)
	}

	if len(key) == 8 {
		if t, ok := parseHex(key[:4], key[4:]); ok {
			return t, nil
		}
	}

	if len(key) == 9 && key[4] == ',' {
		if t, ok := parseHex(key[:4], key[5:]); ok {
			return t, nil
		}
	}

	t, ok := Lookup(key)
	if !ok {
		return Tag{}, apierr.Newf(apierr.UnknownDicomTag, "unknown DICOM tag: %s", key)
	}

	if t.IsIllegal() || t.IsPrivate() {
		return Tag{}, apierr.Newf(apierr.NotImplemented, "illegal or private tag: %s", key)
	}

	return t, nil
}

func parseHex(group, element string) (Tag, bool) {
	g, err := strconv.ParseUint(group, 16, 16)
	if err != nil {
		return Tag{}, false
	}
	e, err := strconv.ParseUint(element, 16, 16)
	if err != nil {
		return Tag{}, false
	}
	return Tag{Group: uint16(g), Element: uint16(e)}, true
}
