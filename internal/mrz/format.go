/**
 * MRZ document formats
 *
 * Column-offset tables for the two supported ICAO 9303 layouts:
 * - TD3 (passport): 2 lines x 44 characters
 * - TD1 (ID card):  3 lines x 30 characters
 *
 * Tables are package-level values and are never modified at runtime.
 */

package mrz

import "fmt"

// Format identifies a fixed MRZ layout.
type Format int

const (
	FormatTD3 Format = iota + 1
	FormatTD1
)

// String returns the ICAO layout name.
func (f Format) String() string {
	switch f {
	case FormatTD3:
		return "TD3"
	case FormatTD1:
		return "TD1"
	default:
		return "UNKNOWN"
	}
}

// DocumentType returns the kind of document the layout is used for.
func (f Format) DocumentType() string {
	switch f {
	case FormatTD3:
		return "PASSPORT"
	case FormatTD1:
		return "ID_CARD"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the format as its layout name in JSON.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText accepts the layout names produced by MarshalText.
func (f *Format) UnmarshalText(text []byte) error {
	switch string(text) {
	case "TD3":
		*f = FormatTD3
	case "TD1":
		*f = FormatTD1
	default:
		return fmt.Errorf("unknown MRZ format %q", text)
	}
	return nil
}

// Layout returns the offset table for the format, or nil for an unknown value.
func (f Format) Layout() *Layout {
	switch f {
	case FormatTD3:
		return &td3Layout
	case FormatTD1:
		return &td1Layout
	default:
		return nil
	}
}

// Field keys shared by both layouts.
const (
	FieldDocumentCode   = "document_code"
	FieldIssuer         = "issuer"
	FieldName           = "name"
	FieldDocumentNumber = "document_number"
	FieldNationality    = "nationality"
	FieldBirthDate      = "birth_date"
	FieldSex            = "sex"
	FieldExpiryDate     = "expiry_date"
	FieldPersonalNumber = "personal_number"
	FieldOptionalData   = "optional_data"
	FieldComposite      = "composite"
)

// Check labels as they appear in error entries.
const (
	LabelDocumentNumber = "Document Number"
	LabelBirthDate      = "Date of Birth"
	LabelExpiryDate     = "Date of Expiry"
	LabelPersonalNumber = "Personal Number"
	LabelComposite      = "Composite (Final)"
)

// noCheck marks a field without an associated check digit.
const noCheck = -1

// FieldSpec locates one field inside a resolved line-set.
type FieldSpec struct {
	Key    string
	Label  string
	Line   int // 0-based line index
	Start  int
	Length int
	Check  int // column of the check digit on the same line, or noCheck
}

// HasCheck reports whether the field carries its own check digit.
func (s FieldSpec) HasCheck() bool {
	return s.Check != noCheck
}

// Span is a half-open column range on one line.
type Span struct {
	Line  int
	Start int
	End   int
}

// CompositeSpec describes the record-level check digit.
type CompositeSpec struct {
	Label    string
	Line     int
	Check    int
	Segments []Span
}

// Layout is the complete offset table for a Format.
type Layout struct {
	Format    Format
	Lines     int
	Width     int
	Fields    []FieldSpec
	Composite CompositeSpec
}

var td3Layout = Layout{
	Format: FormatTD3,
	Lines:  2,
	Width:  44,
	Fields: []FieldSpec{
		{Key: FieldDocumentCode, Line: 0, Start: 0, Length: 2, Check: noCheck},
		{Key: FieldIssuer, Line: 0, Start: 2, Length: 3, Check: noCheck},
		{Key: FieldName, Line: 0, Start: 5, Length: 39, Check: noCheck},
		{Key: FieldDocumentNumber, Label: LabelDocumentNumber, Line: 1, Start: 0, Length: 9, Check: 9},
		{Key: FieldNationality, Line: 1, Start: 10, Length: 3, Check: noCheck},
		{Key: FieldBirthDate, Label: LabelBirthDate, Line: 1, Start: 13, Length: 6, Check: 19},
		{Key: FieldSex, Line: 1, Start: 20, Length: 1, Check: noCheck},
		{Key: FieldExpiryDate, Label: LabelExpiryDate, Line: 1, Start: 21, Length: 6, Check: 27},
		{Key: FieldPersonalNumber, Label: LabelPersonalNumber, Line: 1, Start: 28, Length: 14, Check: 42},
	},
	Composite: CompositeSpec{
		Label: LabelComposite,
		Line:  1,
		Check: 43,
		Segments: []Span{
			{Line: 1, Start: 0, End: 10},
			{Line: 1, Start: 13, End: 20},
			{Line: 1, Start: 21, End: 43},
		},
	},
}

var td1Layout = Layout{
	Format: FormatTD1,
	Lines:  3,
	Width:  30,
	Fields: []FieldSpec{
		{Key: FieldDocumentCode, Line: 0, Start: 0, Length: 2, Check: noCheck},
		{Key: FieldIssuer, Line: 0, Start: 2, Length: 3, Check: noCheck},
		{Key: FieldDocumentNumber, Label: LabelDocumentNumber, Line: 0, Start: 5, Length: 9, Check: 14},
		{Key: FieldPersonalNumber, Line: 0, Start: 15, Length: 15, Check: noCheck},
		{Key: FieldBirthDate, Label: LabelBirthDate, Line: 1, Start: 0, Length: 6, Check: 6},
		{Key: FieldSex, Line: 1, Start: 7, Length: 1, Check: noCheck},
		{Key: FieldExpiryDate, Label: LabelExpiryDate, Line: 1, Start: 8, Length: 6, Check: 14},
		{Key: FieldNationality, Line: 1, Start: 15, Length: 3, Check: noCheck},
		{Key: FieldOptionalData, Line: 1, Start: 18, Length: 11, Check: noCheck},
		{Key: FieldName, Line: 2, Start: 0, Length: 30, Check: noCheck},
	},
	Composite: CompositeSpec{
		Label: LabelComposite,
		Line:  1,
		Check: 29,
		Segments: []Span{
			{Line: 0, Start: 5, End: 30},
			{Line: 1, Start: 0, End: 7},
			{Line: 1, Start: 8, End: 15},
			{Line: 1, Start: 18, End: 29},
		},
	},
}
