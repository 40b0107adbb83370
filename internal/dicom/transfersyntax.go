package dicom

// Transfer syntax UIDs
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	JPEGBaseline                   = "1.2.840.10008.1.2.4.50"
	JPEGExtended                   = "1.2.840.10008.1.2.4.51"
	JPEGLossless                   = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1                = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless                 = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless             = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless               = "1.2.840.10008.1.2.4.90"
	JPEG2000                       = "1.2.840.10008.1.2.4.91"
	JPEG2000Part2Lossless          = "1.2.840.10008.1.2.4.92"
	JPEG2000Part2                  = "1.2.840.10008.1.2.4.93"
	RLELossless                    = "1.2.840.10008.1.2.5"
)

// IsNativeLittleEndian reports whether pixel data of ts is uncompressed
// little endian. Implicit, explicit and deflated syntaxes share the same
// pixel layout.
func IsNativeLittleEndian(ts string) bool {
	switch ts {
	case ImplicitVRLittleEndian, ExplicitVRLittleEndian, DeflatedExplicitVRLittleEndian:
		return true
	}
	return false
}

// IsEncapsulated reports whether pixel data of ts is stored as fragments
func IsEncapsulated(ts string) bool {
	switch ts {
	case ImplicitVRLittleEndian, ExplicitVRLittleEndian, DeflatedExplicitVRLittleEndian, ExplicitVRBigEndian:
		return false
	}
	return ts != ""
}
