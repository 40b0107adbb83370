package dictionary

import (
	dcmtag "github.com/suyashkumar/dicom/pkg/tag"
)

// Entry describes a standard attribute
type Entry struct {
	Keyword string
	VR      string
}

// Well-known tags used across the gateway
var (
	FileMetaInformationGroupLength = Tag{0x0002, 0x0000}
	MediaStorageSOPClassUID        = Tag{0x0002, 0x0002}
	MediaStorageSOPInstanceUID     = Tag{0x0002, 0x0003}
	TransferSyntaxUID              = Tag{0x0002, 0x0010}

	SpecificCharacterSet            = Tag{0x0008, 0x0005}
	SOPClassUID                     = Tag{0x0008, 0x0016}
	SOPInstanceUID                  = Tag{0x0008, 0x0018}
	StudyDate                       = Tag{0x0008, 0x0020}
	StudyTime                       = Tag{0x0008, 0x0030}
	AccessionNumber                 = Tag{0x0008, 0x0050}
	InstanceAvailability            = Tag{0x0008, 0x0056}
	Modality                        = Tag{0x0008, 0x0060}
	ModalitiesInStudy               = Tag{0x0008, 0x0061}
	ReferringPhysicianName          = Tag{0x0008, 0x0090}
	TimezoneOffsetFromUTC           = Tag{0x0008, 0x0201}
	SeriesDescription               = Tag{0x0008, 0x103E}
	ReferencedSOPClassUID           = Tag{0x0008, 0x1150}
	ReferencedSOPInstanceUID        = Tag{0x0008, 0x1155}
	RetrieveURL                     = Tag{0x0008, 0x1190}
	WarningReason                   = Tag{0x0008, 0x1196}
	FailureReason                   = Tag{0x0008, 0x1197}
	FailedSOPSequence               = Tag{0x0008, 0x1198}
	ReferencedSOPSequence           = Tag{0x0008, 0x1199}
	OtherFailuresSequence           = Tag{0x0008, 0x119A}
	PatientName                     = Tag{0x0010, 0x0010}
	PatientID                       = Tag{0x0010, 0x0020}
	PatientBirthDate                = Tag{0x0010, 0x0030}
	PatientSex                      = Tag{0x0010, 0x0040}
	StudyInstanceUID                = Tag{0x0020, 0x000D}
	SeriesInstanceUID               = Tag{0x0020, 0x000E}
	StudyID                         = Tag{0x0020, 0x0010}
	SeriesNumber                    = Tag{0x0020, 0x0011}
	InstanceNumber                  = Tag{0x0020, 0x0013}
	NumberOfStudyRelatedSeries      = Tag{0x0020, 0x1206}
	NumberOfStudyRelatedInstances   = Tag{0x0020, 0x1208}
	NumberOfSeriesRelatedInstances  = Tag{0x0020, 0x1209}
	SamplesPerPixel                 = Tag{0x0028, 0x0002}
	PhotometricInterpretation       = Tag{0x0028, 0x0004}
	PlanarConfiguration             = Tag{0x0028, 0x0006}
	NumberOfFrames                  = Tag{0x0028, 0x0008}
	Rows                            = Tag{0x0028, 0x0010}
	Columns                         = Tag{0x0028, 0x0011}
	BitsAllocated                   = Tag{0x0028, 0x0100}
	BitsStored                      = Tag{0x0028, 0x0101}
	HighBit                         = Tag{0x0028, 0x0102}
	PixelRepresentation             = Tag{0x0028, 0x0103}
	PerformedProcedureStepStartDate = Tag{0x0040, 0x0244}
	PerformedProcedureStepStartTime = Tag{0x0040, 0x0245}
	RequestAttributesSequence       = Tag{0x0040, 0x0275}
	PixelData                       = Tag{0x7FE0, 0x0010}

	Item                     = Tag{0xFFFE, 0xE000}
	ItemDelimitationItem     = Tag{0xFFFE, 0xE00D}
	SequenceDelimitationItem = Tag{0xFFFE, 0xE0DD}
)

var entries = map[Tag]Entry{
	{0x0002, 0x0000}: {"FileMetaInformationGroupLength", "UL"},
	{0x0002, 0x0001}: {"FileMetaInformationVersion", "OB"},
	{0x0002, 0x0002}: {"MediaStorageSOPClassUID", "UI"},
	{0x0002, 0x0003}: {"MediaStorageSOPInstanceUID", "UI"},
	{0x0002, 0x0010}: {"TransferSyntaxUID", "UI"},
	{0x0002, 0x0012}: {"ImplementationClassUID", "UI"},
	{0x0002, 0x0013}: {"ImplementationVersionName", "SH"},
	{0x0002, 0x0016}: {"SourceApplicationEntityTitle", "AE"},

	{0x0008, 0x0005}: {"SpecificCharacterSet", "CS"},
	{0x0008, 0x0008}: {"ImageType", "CS"},
	{0x0008, 0x0012}: {"InstanceCreationDate", "DA"},
	{0x0008, 0x0013}: {"InstanceCreationTime", "TM"},
	{0x0008, 0x0014}: {"InstanceCreatorUID", "UI"},
	{0x0008, 0x0016}: {"SOPClassUID", "UI"},
	{0x0008, 0x0018}: {"SOPInstanceUID", "UI"},
	{0x0008, 0x0020}: {"StudyDate", "DA"},
	{0x0008, 0x0021}: {"SeriesDate", "DA"},
	{0x0008, 0x0022}: {"AcquisitionDate", "DA"},
	{0x0008, 0x0023}: {"ContentDate", "DA"},
	{0x0008, 0x0030}: {"StudyTime", "TM"},
	{0x0008, 0x0031}: {"SeriesTime", "TM"},
	{0x0008, 0x0032}: {"AcquisitionTime", "TM"},
	{0x0008, 0x0033}: {"ContentTime", "TM"},
	{0x0008, 0x0050}: {"AccessionNumber", "SH"},
	{0x0008, 0x0054}: {"RetrieveAETitle", "AE"},
	{0x0008, 0x0056}: {"InstanceAvailability", "CS"},
	{0x0008, 0x0060}: {"Modality", "CS"},
	{0x0008, 0x0061}: {"ModalitiesInStudy", "CS"},
	{0x0008, 0x0062}: {"SOPClassesInStudy", "UI"},
	{0x0008, 0x0064}: {"ConversionType", "CS"},
	{0x0008, 0x0070}: {"Manufacturer", "LO"},
	{0x0008, 0x0080}: {"InstitutionName", "LO"},
	{0x0008, 0x0081}: {"InstitutionAddress", "ST"},
	{0x0008, 0x0090}: {"ReferringPhysicianName", "PN"},
	{0x0008, 0x0100}: {"CodeValue", "SH"},
	{0x0008, 0x0102}: {"CodingSchemeDesignator", "SH"},
	{0x0008, 0x0104}: {"CodeMeaning", "LO"},
	{0x0008, 0x0201}: {"TimezoneOffsetFromUTC", "SH"},
	{0x0008, 0x1010}: {"StationName", "SH"},
	{0x0008, 0x1030}: {"StudyDescription", "LO"},
	{0x0008, 0x1032}: {"ProcedureCodeSequence", "SQ"},
	{0x0008, 0x103E}: {"SeriesDescription", "LO"},
	{0x0008, 0x1090}: {"ManufacturerModelName", "LO"},
	{0x0008, 0x1110}: {"ReferencedStudySequence", "SQ"},
	{0x0008, 0x1115}: {"ReferencedSeriesSequence", "SQ"},
	{0x0008, 0x1140}: {"ReferencedImageSequence", "SQ"},
	{0x0008, 0x1150}: {"ReferencedSOPClassUID", "UI"},
	{0x0008, 0x1155}: {"ReferencedSOPInstanceUID", "UI"},
	{0x0008, 0x1190}: {"RetrieveURL", "UR"},
	{0x0008, 0x1196}: {"WarningReason", "US"},
	{0x0008, 0x1197}: {"FailureReason", "US"},
	{0x0008, 0x1198}: {"FailedSOPSequence", "SQ"},
	{0x0008, 0x1199}: {"ReferencedSOPSequence", "SQ"},
	{0x0008, 0x119A}: {"OtherFailuresSequence", "SQ"},
	{0x0008, 0x2111}: {"DerivationDescription", "ST"},
	{0x0008, 0x9215}: {"DerivationCodeSequence", "SQ"},

	{0x0010, 0x0010}: {"PatientName", "PN"},
	{0x0010, 0x0020}: {"PatientID", "LO"},
	{0x0010, 0x0021}: {"IssuerOfPatientID", "LO"},
	{0x0010, 0x0030}: {"PatientBirthDate", "DA"},
	{0x0010, 0x0040}: {"PatientSex", "CS"},
	{0x0010, 0x1010}: {"PatientAge", "AS"},
	{0x0010, 0x1020}: {"PatientSize", "DS"},
	{0x0010, 0x1030}: {"PatientWeight", "DS"},
	{0x0010, 0x4000}: {"PatientComments", "LT"},

	{0x0018, 0x0015}: {"BodyPartExamined", "CS"},
	{0x0018, 0x0050}: {"SliceThickness", "DS"},
	{0x0018, 0x0060}: {"KVP", "DS"},
	{0x0018, 0x0088}: {"SpacingBetweenSlices", "DS"},
	{0x0018, 0x1000}: {"DeviceSerialNumber", "LO"},
	{0x0018, 0x1020}: {"SoftwareVersions", "LO"},
	{0x0018, 0x5100}: {"PatientPosition", "CS"},

	{0x0020, 0x000D}: {"StudyInstanceUID", "UI"},
	{0x0020, 0x000E}: {"SeriesInstanceUID", "UI"},
	{0x0020, 0x0010}: {"StudyID", "SH"},
	{0x0020, 0x0011}: {"SeriesNumber", "IS"},
	{0x0020, 0x0012}: {"AcquisitionNumber", "IS"},
	{0x0020, 0x0013}: {"InstanceNumber", "IS"},
	{0x0020, 0x0020}: {"PatientOrientation", "CS"},
	{0x0020, 0x0032}: {"ImagePositionPatient", "DS"},
	{0x0020, 0x0037}: {"ImageOrientationPatient", "DS"},
	{0x0020, 0x0052}: {"FrameOfReferenceUID", "UI"},
	{0x0020, 0x0060}: {"Laterality", "CS"},
	{0x0020, 0x1041}: {"SliceLocation", "DS"},
	{0x0020, 0x1206}: {"NumberOfStudyRelatedSeries", "IS"},
	{0x0020, 0x1208}: {"NumberOfStudyRelatedInstances", "IS"},
	{0x0020, 0x1209}: {"NumberOfSeriesRelatedInstances", "IS"},
	{0x0020, 0x4000}: {"ImageComments", "LT"},

	{0x0028, 0x0002}: {"SamplesPerPixel", "US"},
	{0x0028, 0x0004}: {"PhotometricInterpretation", "CS"},
	{0x0028, 0x0006}: {"PlanarConfiguration", "US"},
	{0x0028, 0x0008}: {"NumberOfFrames", "IS"},
	{0x0028, 0x0009}: {"FrameIncrementPointer", "AT"},
	{0x0028, 0x0010}: {"Rows", "US"},
	{0x0028, 0x0011}: {"Columns", "US"},
	{0x0028, 0x0030}: {"PixelSpacing", "DS"},
	{0x0028, 0x0034}: {"PixelAspectRatio", "IS"},
	{0x0028, 0x0100}: {"BitsAllocated", "US"},
	{0x0028, 0x0101}: {"BitsStored", "US"},
	{0x0028, 0x0102}: {"HighBit", "US"},
	{0x0028, 0x0103}: {"PixelRepresentation", "US"},
	{0x0028, 0x1050}: {"WindowCenter", "DS"},
	{0x0028, 0x1051}: {"WindowWidth", "DS"},
	{0x0028, 0x1052}: {"RescaleIntercept", "DS"},
	{0x0028, 0x1053}: {"RescaleSlope", "DS"},
	{0x0028, 0x1054}: {"RescaleType", "LO"},
	{0x0028, 0x1055}: {"WindowCenterWidthExplanation", "LO"},
	{0x0028, 0x2110}: {"LossyImageCompression", "CS"},
	{0x0028, 0x3010}: {"VOILUTSequence", "SQ"},

	{0x0032, 0x1060}: {"RequestedProcedureDescription", "LO"},
	{0x0040, 0x0009}: {"ScheduledProcedureStepID", "SH"},
	{0x0040, 0x0100}: {"ScheduledProcedureStepSequence", "SQ"},
	{0x0040, 0x0244}: {"PerformedProcedureStepStartDate", "DA"},
	{0x0040, 0x0245}: {"PerformedProcedureStepStartTime", "TM"},
	{0x0040, 0x0275}: {"RequestAttributesSequence", "SQ"},
	{0x0040, 0x1001}: {"RequestedProcedureID", "SH"},
	{0x0040, 0xA730}: {"ContentSequence", "SQ"},
	{0x0042, 0x0011}: {"EncapsulatedDocument", "OB"},
	{0x0054, 0x0016}: {"RadiopharmaceuticalInformationSequence", "SQ"},
	{0x5400, 0x0100}: {"WaveformSequence", "SQ"},

	{0x7FE0, 0x0008}: {"FloatPixelData", "OF"},
	{0x7FE0, 0x0009}: {"DoubleFloatPixelData", "OD"},
	{0x7FE0, 0x0010}: {"PixelData", "OB_OW"},
}

var byKeyword = func() map[string]Tag {
	m := make(map[string]Tag, len(entries))
	for t, e := range entries {
		m[e.Keyword] = t
	}
	return m
}()

// Find returns the curated entry for a tag
func Find(t Tag) (Entry, bool) {
	e, ok := entries[t]
	return e, ok
}

// Keyword resolves the keyword of a tag, falling back to the full
// standard dictionary for tags outside the curated table.
func Keyword(t Tag) (string, bool) {
	if t == RetrieveURL {
		return "RetrieveURL", true
	}
	if e, ok := entries[t]; ok {
		return e.Keyword, true
	}
	if t.IsPrivate() {
		return "", false
	}
	info, err := dcmtag.Find(dcmtag.Tag{Group: t.Group, Element: t.Element})
	if err != nil || info.Name == "" {
		return "", false
	}
	return info.Name, true
}

// Lookup resolves a keyword to its tag
func Lookup(keyword string) (Tag, bool) {
	if t, ok := byKeyword[keyword]; ok {
		return t, true
	}
	info, err := dcmtag.FindByName(keyword)
	if err != nil {
		return Tag{}, false
	}
	return Tag{Group: info.Tag.Group, Element: info.Tag.Element}, true
}

// DictionaryVR returns the dictionary VR of a tag, normalised. Tags
// outside the curated table take the first VR of the standard dictionary.
// Private and unknown tags are UN.
func DictionaryVR(t Tag) string {
	if e, ok := entries[t]; ok {
		return NormalizeVR(e.VR)
	}
	if t.Element == 0x0000 {
		return "UL"
	}
	if t.IsPrivate() {
		return "UN"
	}
	info, err := dcmtag.Find(dcmtag.Tag{Group: t.Group, Element: t.Element})
	if err != nil || len(info.VRs) == 0 {
		return "UN"
	}
	return NormalizeVR(info.VRs[0])
}
