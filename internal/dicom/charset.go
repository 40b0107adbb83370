package dicom

import (
	"strings"

	"github.com/otcheredev/dicomweb-gateway/internal/dictionary"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Charset is the character repertoire of a dataset. A nil Encoding means
// the bytes are already ASCII or UTF-8.
type Charset struct {
	Name     string
	Encoding encoding.Encoding
}

var charsets = map[string]encoding.Encoding{
	"ISO_IR 6":        nil,
	"ISO 2022 IR 6":   nil,
	"ISO_IR 192":      nil,
	"ISO_IR 13":       japanese.ShiftJIS,
	"ISO 2022 IR 13":  japanese.ShiftJIS,
	"ISO 2022 IR 87":  japanese.ISO2022JP,
	"ISO 2022 IR 159": japanese.ISO2022JP,
	"ISO_IR 100":      charmap.ISO8859_1,
	"ISO 2022 IR 100": charmap.ISO8859_1,
	"ISO_IR 101":      charmap.ISO8859_2,
	"ISO 2022 IR 101": charmap.ISO8859_2,
	"ISO_IR 109":      charmap.ISO8859_3,
	"ISO 2022 IR 109": charmap.ISO8859_3,
	"ISO_IR 110":      charmap.ISO8859_4,
	"ISO 2022 IR 110": charmap.ISO8859_4,
	"ISO_IR 126":      charmap.ISO8859_7,
	"ISO 2022 IR 126": charmap.ISO8859_7,
	"ISO_IR 127":      charmap.ISO8859_6,
	"ISO 2022 IR 127": charmap.ISO8859_6,
	"ISO_IR 138":      charmap.ISO8859_8,
	"ISO 2022 IR 138": charmap.ISO8859_8,
	"ISO_IR 144":      charmap.ISO8859_5,
	"ISO 2022 IR 144": charmap.ISO8859_5,
	"ISO_IR 148":      charmap.ISO8859_9,
	"ISO 2022 IR 148": charmap.ISO8859_9,
	"ISO_IR 166":      charmap.Windows874,
	"ISO 2022 IR 166": charmap.Windows874,
	"ISO 2022 IR 149": korean.EUCKR,
	"GB18030":         simplifiedchinese.GB18030,
	"GBK":             simplifiedchinese.GBK,
}

// LookupCharset resolves a Specific Character Set term
func LookupCharset(term string) (Charset, bool) {
	term = strings.TrimSpace(term)
	enc, ok := charsets[term]
	if !ok {
		return Charset{}, false
	}
	return Charset{Name: term, Encoding: enc}, true
}

// DefaultCharset is the fallback for unrecognised Specific Character Set
// values (Latin-1)
var DefaultCharset = Charset{Name: "ISO_IR 100", Encoding: charmap.ISO8859_1}

// DetectCharset reads Specific Character Set. Absence means ASCII,
// unrecognised values fall back to fallback. The first non-empty
// component of a multi-valued attribute decides.
func (d *Dataset) DetectCharset(fallback Charset) Charset {
	e := d.Get(dictionary.SpecificCharacterSet)
	if e == nil {
		return Charset{Name: "ISO_IR 6"}
	}

	value := trimValue(string(e.Value))
	if value == "" {
		return Charset{Name: "ISO_IR 6"}
	}

	for _, term := range strings.Split(value, "\\") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if cs, ok := LookupCharset(term); ok {
			return cs
		}
		return fallback
	}
	return Charset{Name: "ISO_IR 6"}
}

// Decode converts raw bytes to UTF-8
func (c Charset) Decode(raw []byte) (string, error) {
	if c.Encoding == nil {
		return strings.ToValidUTF8(string(raw), "�"), nil
	}
	out, err := c.Encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Encode converts UTF-8 text to the repertoire
func (c Charset) Encode(text string) ([]byte, error) {
	if c.Encoding == nil {
		return []byte(text), nil
	}
	return c.Encoding.NewEncoder().Bytes([]byte(text))
}
