package models

// ViolationKind names the first structural problem found in a document.
type ViolationKind string

const (
	ViolationNone               ViolationKind = ""
	ViolationEmptyDocument      ViolationKind = "empty_document"
	ViolationMissingRoot        ViolationKind = "missing_root"
	ViolationMissingProcess     ViolationKind = "missing_process"
	ViolationMissingLayout      ViolationKind = "missing_layout"
	ViolationMalformedLayout    ViolationKind = "malformed_layout_point"
	ViolationUnescapedCharacter ViolationKind = "unescaped_character"
	ViolationInvalidNamespace   ViolationKind = "invalid_namespace"
	ViolationMalformedXML       ViolationKind = "malformed_xml"
	ViolationInvalidElement     ViolationKind = "invalid_element"
	ViolationMissingElement     ViolationKind = "missing_required_element"
	ViolationMissingFlowRef     ViolationKind = "missing_flow_reference"
	ViolationDanglingRef        ViolationKind = "dangling_reference"
	ViolationMissingAttributes  ViolationKind = "missing_required_attributes"
	ViolationLayoutFailed       ViolationKind = "layout_failed"
	ViolationEmptyResponse      ViolationKind = "empty_response"
)

// ValidationResult is produced and consumed within one retry loop.
type ValidationResult struct {
	Valid   bool          `json:"valid"`
	Kind    ViolationKind `json:"kind,omitempty"`
	Details string        `json:"details,omitempty"`
}

// Valid is the passing result.
var Valid = ValidationResult{Valid: true}

// Invalid builds a failing result.
func Invalid(kind ViolationKind, details string) ValidationResult {
	return ValidationResult{Kind: kind, Details: details}
}

func (v ValidationResult) String() string {
	if v.Valid {
		return "valid"
	}
	if v.Details == "" {
		return string(v.Kind)
	}
	return string(v.Kind) + ": " + v.Details
}
