package dictionary

import "strings"

var knownVRs = map[string]bool{
	"AE": true, "AS": true, "AT": true, "CS": true, "DA": true, "DS": true, "DT": true,
	"FD": true, "FL": true, "IS": true, "LO": true, "LT": true, "OB": true, "OD": true,
	"OF": true, "OL": true, "OV": true, "OW": true, "PN": true, "SH": true, "SL": true,
	"SQ": true, "SS": true, "ST": true, "SV": true, "TM": true, "UC": true, "UI": true,
	"UL": true, "UN": true, "UR": true, "US": true, "UT": true, "UV": true,
}

var bulkVRs = map[string]bool{
	"LT": true, "OB": true, "OD": true, "OF": true, "OW": true, "UN": true, "UT": true,
}

// IsKnownVR reports whether vr is a VR of the standard
func IsKnownVR(vr string) bool {
	return knownVRs[vr]
}

// IsBulk reports whether values of this VR are delivered as bulk data.
// Numeric string VRs are never bulk.
func IsBulk(vr string) bool {
	return bulkVRs[vr]
}

// NormalizeVR maps OB_OW to OB and anything that is not two uppercase
// letters to UN.
func NormalizeVR(vr string) string {
	switch strings.ToUpper(strings.ReplaceAll(vr, " or ", "_")) {
	case "OB_OW":
		return "OB"
	}
	if len(vr) != 2 || vr[0] < 'A' || vr[0] > 'Z' || vr[1] < 'A' || vr[1] > 'Z' {
		return "UN"
	}
	return vr
}

// ResolveVR returns the VR of an element: the declared VR when it is
// valid, the dictionary VR otherwise.
func ResolveVR(t Tag, declared string) (vr string, isSequence bool) {
	if IsKnownVR(declared) {
		vr = declared
	} else {
		vr = DictionaryVR(t)
	}
	vr = NormalizeVR(vr)
	return vr, vr == "SQ"
}
