package dicom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Text renders the value of e as a UTF-8 string. Binary numeric VRs are
// formatted and joined with a backslash, other VRs are decoded with cs.
// Leading and trailing whitespace and NUL bytes are removed.
func (d *Dataset) Text(e *Element, cs Charset) (string, error) {
	if !d.Synthetic {
		if s, ok := d.numericText(e); ok {
			return s, nil
		}
	}

	s, err := cs.Decode(e.Value)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", e.Tag, err)
	}
	return trimValue(s), nil
}

func (d *Dataset) numericText(e *Element) (string, bool) {
	var size int
	switch e.VR {
	case "US", "SS":
		size = 2
	case "UL", "SL", "FL", "AT":
		size = 4
	case "FD", "SV", "UV":
		size = 8
	default:
		return "", false
	}

	order := d.ByteOrder
	values := make([]string, 0, len(e.Value)/size)
	for i := 0; i+size <= len(e.Value); i += size {
		b := e.Value[i : i+size]
		var s string
		switch e.VR {
		case "US":
			s = strconv.FormatUint(uint64(order.Uint16(b)), 10)
		case "SS":
			s = strconv.FormatInt(int64(int16(order.Uint16(b))), 10)
		case "UL":
			s = strconv.FormatUint(uint64(order.Uint32(b)), 10)
		case "SL":
			s = strconv.FormatInt(int64(int32(order.Uint32(b))), 10)
		case "FL":
			s = strconv.FormatFloat(float64(math.Float32frombits(order.Uint32(b))), 'g', -1, 32)
		case "FD":
			s = strconv.FormatFloat(math.Float64frombits(order.Uint64(b)), 'g', -1, 64)
		case "SV":
			s = strconv.FormatInt(int64(order.Uint64(b)), 10)
		case "UV":
			s = strconv.FormatUint(order.Uint64(b), 10)
		case "AT":
			s = fmt.Sprintf("%04X%04X", order.Uint16(b), order.Uint16(b[2:]))
		}
		values = append(values, s)
	}
	return strings.Join(values, "\\"), true
}
