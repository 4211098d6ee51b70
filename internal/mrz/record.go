package mrz

import "fmt"

// Status is the verification verdict of a decoded record.
type Status string

const (
	StatusValid   Status = "VALID"
	StatusInvalid Status = "INVALID"
)

// CheckError describes one failed check digit.
type CheckError struct {
	Field    string `json:"field"`
	Label    string `json:"label"`
	Line     int    `json:"line"` // 1-based
	Expected int    `json:"expected"`
	Found    string `json:"found"`
}

// Error implements error so a CheckError can be wrapped or logged directly.
func (e CheckError) Error() string {
	return e.String()
}

func (e CheckError) String() string {
	return fmt.Sprintf("%s check digit mismatch on line %d: expected %d, found %q",
		e.Label, e.Line, e.Expected, e.Found)
}

// LineSet keeps the lines a record was produced from.
type LineSet struct {
	Raw        []string `json:"raw"`
	Normalized []string `json:"normalized"`
	Resolved   []string `json:"resolved"`
}

// Record is the decoded and verified content of one MRZ.
type Record struct {
	Format         Format       `json:"format"`
	DocumentType   string       `json:"document_type"`
	DocumentCode   string       `json:"document_code"`
	Issuer         string       `json:"issuer"`
	DocumentNumber string       `json:"document_number"`
	Series         string       `json:"series"`
	Nationality    string       `json:"nationality"`
	BirthDate      string       `json:"birth_date"`
	Sex            string       `json:"sex"`
	ExpiryDate     string       `json:"expiry_date"`
	PersonalNumber string       `json:"personal_number"`
	OptionalData   string       `json:"optional_data,omitempty"`
	Surname        string       `json:"surname"`
	GivenNames     string       `json:"given_names"`
	Status         Status       `json:"verification_status"`
	Errors         []CheckError `json:"errors"`
	Lines          LineSet      `json:"lines"`
	WindowsTried   int          `json:"windows_tried"`
}

// Valid reports whether every check digit verified.
func (r *Record) Valid() bool {
	return r.Status == StatusValid
}

// ErrorMessages returns the check failures as strings, in check order.
func (r *Record) ErrorMessages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}
	return out
}

// Fields returns the decoded values keyed by field name.
func (r *Record) Fields() map[string]string {
	return map[string]string{
		"format":              r.Format.String(),
		"document_type":       r.DocumentType,
		FieldDocumentCode:     r.DocumentCode,
		FieldIssuer:           r.Issuer,
		FieldDocumentNumber:   r.DocumentNumber,
		"series":              r.Series,
		FieldNationality:      r.Nationality,
		FieldBirthDate:        r.BirthDate,
		FieldSex:              r.Sex,
		FieldExpiryDate:       r.ExpiryDate,
		FieldPersonalNumber:   r.PersonalNumber,
		FieldOptionalData:     r.OptionalData,
		"surname":             r.Surname,
		"given_names":         r.GivenNames,
		"verification_status": string(r.Status),
	}
}
