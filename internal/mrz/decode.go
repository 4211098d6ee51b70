package mrz

import (
	"fmt"
	"strings"
)

// Decode slices lines with the offset table of format, verifies every check
// digit and returns a fully populated record. Check failures are reported in
// Record.Errors; an error is returned only when the line-set does not have
// the exact shape of the format.
func Decode(format Format, lines []string) (*Record, error) {
	layout := format.Layout()
	if layout == nil {
		return nil, fmt.Errorf("unknown MRZ format %d", int(format))
	}
	if err := layout.checkShape(lines); err != nil {
		return nil, err
	}

	rec := &Record{
		Format:       format,
		DocumentType: format.DocumentType(),
		Errors:       make([]CheckError, 0),
		Lines: LineSet{
			Resolved: append([]string(nil), lines...),
		},
	}

	for _, spec := range layout.Fields {
		raw := lines[spec.Line][spec.Start : spec.Start+spec.Length]
		rec.assign(spec.Key, raw)
		if spec.HasCheck() {
			rec.verify(spec.Key, spec.Label, spec.Line, raw, lines[spec.Line][spec.Check])
		}
	}

	comp := layout.Composite
	var b strings.Builder
	for _, seg := range comp.Segments {
		b.WriteString(lines[seg.Line][seg.Start:seg.End])
	}
	rec.verify(FieldComposite, comp.Label, comp.Line, b.String(), lines[comp.Line][comp.Check])

	if len(rec.Errors) == 0 {
		rec.Status = StatusValid
	} else {
		rec.Status = StatusInvalid
	}
	return rec, nil
}

func (l *Layout) checkShape(lines []string) error {
	if len(lines) != l.Lines {
		return fmt.Errorf("%s expects %d lines, got %d", l.Format, l.Lines, len(lines))
	}
	for i, line := range lines {
		if len(line) != l.Width {
			return fmt.Errorf("%s line %d must be %d characters, got %d", l.Format, i+1, l.Width, len(line))
		}
	}
	return nil
}

func (r *Record) verify(key, label string, line int, value string, declared byte) {
	expected, ok := verifyCheck(value, declared)
	if ok {
		return
	}
	r.Errors = append(r.Errors, CheckError{
		Field:    key,
		Label:    label,
		Line:     line + 1,
		Expected: expected,
		Found:    string(declared),
	})
}

func (r *Record) assign(key, raw string) {
	switch key {
	case FieldDocumentCode:
		r.DocumentCode = stripFillers(raw)
	case FieldIssuer:
		r.Issuer = stripFillers(raw)
	case FieldName:
		r.Surname, r.GivenNames = SplitName(raw)
	case FieldDocumentNumber:
		r.DocumentNumber = stripFillers(raw)
		r.Series = seriesOf(r.DocumentNumber)
	case FieldNationality:
		r.Nationality = stripFillers(raw)
	case FieldBirthDate:
		r.BirthDate = FormatYMD(raw)
	case FieldSex:
		r.Sex = formatSex(raw)
	case FieldExpiryDate:
		r.ExpiryDate = FormatYMD(raw)
	case FieldPersonalNumber:
		r.PersonalNumber = stripFillers(raw)
	case FieldOptionalData:
		r.OptionalData = stripFillers(raw)
	}
}

// FormatYMD renders a six digit YYMMDD value as YYYY-MM-DD. Two-digit years
// above 50 belong to the 1900s, the rest to the 2000s. Anything that is not
// six digits is returned unchanged.
func FormatYMD(yymmdd string) string {
	if len(yymmdd) != 6 || !allDigits(yymmdd) {
		return yymmdd
	}
	century := "20"
	if yymmdd[:2] > "50" {
		century = "19"
	}
	return century + yymmdd[:2] + "-" + yymmdd[2:4] + "-" + yymmdd[4:6]
}

// SplitName splits an MRZ name zone on its first double filler into surname
// and given names, rendering the remaining fillers as single spaces.
func SplitName(zone string) (surname, given string) {
	before, after, _ := strings.Cut(zone, "<<")
	return fillersToSpaces(before), fillersToSpaces(after)
}

func fillersToSpaces(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, string(Filler), " ")), " ")
}

func stripFillers(s string) string {
	return strings.ReplaceAll(s, string(Filler), "")
}

func formatSex(s string) string {
	if s == string(Filler) {
		return "X"
	}
	return s
}

// seriesOf returns the alphabetic prefix of a document number.
func seriesOf(number string) string {
	i := 0
	for i < len(number) && number[i] >= 'A' && number[i] <= 'Z' {
		i++
	}
	return number[:i]
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
