package mrz

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ICAO 9303 specimen documents.
const (
	td3Line1 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<"
	td3Line2 = "L898902C36UTO7408122F1204159ZE184226B<<<<<10"

	td1Line1 = "I<UTOD231458907<<<<<<<<<<<<<<<"
	td1Line2 = "7408122F1204159UTO<<<<<<<<<<<6"
	td1Line3 = "ERIKSSON<<ANNA<MARIA<<<<<<<<<<"
)

func TestCheckDigit(t *testing.T) {
	cases := map[string]int{
		"L898902C3":      6,
		"740812":         2,
		"120415":         9,
		"ZE184226B<<<<<": 1,
		"<<<<<<<<<<<<<<": 0,
		"D23145890":      7,
		"520727":         3,
		"":               0,
	}
	for value, want := range cases {
		assert.Equal(t, want, CheckDigit(value), "CheckDigit(%q)", value)
	}
}

func TestCheckDigit_ReproducesDeclaredDigits(t *testing.T) {
	for _, line := range []string{td3Line2, "A1234567<6KGZ9801015M2801016<<<<<<<<<<<<<<06"} {
		assert.Equal(t, int(line[9]-'0'), CheckDigit(line[0:9]))
		assert.Equal(t, int(line[19]-'0'), CheckDigit(line[13:19]))
		assert.Equal(t, int(line[27]-'0'), CheckDigit(line[21:27]))
		assert.Equal(t, int(line[42]-'0'), CheckDigit(line[28:42]))
		assert.Equal(t, int(line[43]-'0'), CheckDigit(line[0:10]+line[13:20]+line[21:43]))
	}

	assert.Equal(t, 7, CheckDigit(td1Line1[5:14]))
	assert.Equal(t, 2, CheckDigit(td1Line2[0:6]))
	assert.Equal(t, 9, CheckDigit(td1Line2[8:14]))
	assert.Equal(t, 6, CheckDigit(td1Line1[5:30]+td1Line2[0:7]+td1Line2[8:15]+td1Line2[18:29]))
}

func TestFormatYMD(t *testing.T) {
	assert.Equal(t, "1999-01-01", FormatYMD("990101"))
	assert.Equal(t, "2005-01-01", FormatYMD("050101"))
	assert.Equal(t, "2050-12-31", FormatYMD("501231"))
	assert.Equal(t, "1951-06-15", FormatYMD("510615"))
	assert.Equal(t, "99O101", FormatYMD("99O101"))
	assert.Equal(t, "9901", FormatYMD("9901"))
}

func TestSplitName(t *testing.T) {
	surname, given := SplitName("ERIKSSON<<ANNA<MARIA<<<<<<<<<<")
	assert.Equal(t, "ERIKSSON", surname)
	assert.Equal(t, "ANNA MARIA", given)

	surname, given = SplitName("VAN<DER<BERG<<JAN<<<<<")
	assert.Equal(t, "VAN DER BERG", surname)
	assert.Equal(t, "JAN", given)

	surname, given = SplitName("MONONYM<<<<<<<<")
	assert.Equal(t, "MONONYM", surname)
	assert.Empty(t, given)
}

func TestExtract(t *testing.T) {
	text := strings.Join([]string{
		"PASSPORT  PASS  REPUBLIC OF UTOPIA",
		"Surname / Nom",
		"ERIKSSON",
		"",
		"  p<uto eriksson<<anna<maria<<<<<<<<<<<<<<<<<<<  ",
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10\r",
		"<<",
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789ABCD", // 40 chars, no fillers
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123", // exactly 30
		"----------------------------------------",
	}, "\n")

	got := Extract(text)
	assert.Equal(t, []string{
		td3Line1,
		td3Line2,
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123",
	}, got)
}

func TestExtract_LengthBand(t *testing.T) {
	assert.Empty(t, Extract("P<UTO<<SHORT"))
	assert.Empty(t, Extract(strings.Repeat("A<", 51)))
	assert.Len(t, Extract(strings.Repeat("A<", 50)), 1)
	assert.Len(t, Extract(strings.Repeat("B", 36)), 1)
	assert.Empty(t, Extract(strings.Repeat("B", 37)))
}

func TestExtract_LengthCountsCharacters(t *testing.T) {
	// 19 characters, 21 bytes.
	assert.Empty(t, Extract("P<UTOÉRIKSSON<<ANNÄ"))
	// 30 characters, 31 bytes.
	assert.Len(t, Extract("ÉBCDEFGHIJKLMNOPQRSTUVWXYZ0123"), 1)
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "leading document type",
			in:   "PSUTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<",
			want: td3Line1,
		},
		{
			name: "leading document type K",
			in:   "PKUTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<",
			want: td3Line1,
		},
		{
			name: "name separator",
			in:   "P<UTOERIKSSON<LANNA<MARIA<<<<<<<<<<<<<<<<<<<",
			want: td3Line1,
		},
		{
			name: "trailing filler run",
			in:   "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<KLC",
			want: td3Line1,
		},
		{
			name: "pad passport line",
			in:   "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<",
			want: td3Line1,
		},
		{
			name: "pad id card line",
			in:   "I<UTOD231458907<<<<<<<<<",
			want: td1Line1,
		},
		{
			name: "data line untouched",
			in:   td3Line2,
			want: td3Line2,
		},
		{
			name: "short P line is not padded",
			in:   "P<UTOERIKSSON<<ANNA<MARIA<<<<<",
			want: "P<UTOERIKSSON<<ANNA<MARIA<<<<<",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		td3Line1, td3Line2, td1Line1, td1Line2, td1Line3,
		"PSUTOERIKSSON<CANNA<MARIA<<<<<<<<<<<<<<<<KLC",
		"P<UTOSMITH<CLARA<<<<<<<<<<<<<<<<<ABCK",
		"X<CLAL<<<<<<<<<<<<<<<<<<<<",
		"I<UTO<CLK",
		"P<UTO<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<KC",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestDecode_TD3(t *testing.T) {
	rec, err := Decode(FormatTD3, []string{td3Line1, td3Line2})
	require.NoError(t, err)

	assert.Equal(t, FormatTD3, rec.Format)
	assert.Equal(t, "PASSPORT", rec.DocumentType)
	assert.Equal(t, "P", rec.DocumentCode)
	assert.Equal(t, "UTO", rec.Issuer)
	assert.Equal(t, "ERIKSSON", rec.Surname)
	assert.Equal(t, "ANNA MARIA", rec.GivenNames)
	assert.Equal(t, "L898902C3", rec.DocumentNumber)
	assert.Equal(t, "L", rec.Series)
	assert.Equal(t, "UTO", rec.Nationality)
	assert.Equal(t, "1974-08-12", rec.BirthDate)
	assert.Equal(t, "F", rec.Sex)
	assert.Equal(t, "2012-04-15", rec.ExpiryDate)
	assert.Equal(t, "ZE184226B", rec.PersonalNumber)
	assert.Equal(t, StatusValid, rec.Status)
	assert.Empty(t, rec.Errors)
	assert.Equal(t, []string{td3Line1, td3Line2}, rec.Lines.Resolved)
}

func TestDecode_TD1(t *testing.T) {
	rec, err := Decode(FormatTD1, []string{td1Line1, td1Line2, td1Line3})
	require.NoError(t, err)

	assert.Equal(t, "ID_CARD", rec.DocumentType)
	assert.Equal(t, "I", rec.DocumentCode)
	assert.Equal(t, "UTO", rec.Issuer)
	assert.Equal(t, "D23145890", rec.DocumentNumber)
	assert.Equal(t, "D", rec.Series)
	assert.Equal(t, "1974-08-12", rec.BirthDate)
	assert.Equal(t, "F", rec.Sex)
	assert.Equal(t, "2012-04-15", rec.ExpiryDate)
	assert.Equal(t, "UTO", rec.Nationality)
	assert.Equal(t, "ERIKSSON", rec.Surname)
	assert.Equal(t, "ANNA MARIA", rec.GivenNames)
	assert.True(t, rec.Valid())
}

func TestDecode_NonDigitCheckCharacterFails(t *testing.T) {
	line2 := "L898902C3OUTO7408122F1204159ZE184226B<<<<<10"
	rec, err := Decode(FormatTD3, []string{td3Line1, line2})
	require.NoError(t, err)

	assert.Equal(t, StatusInvalid, rec.Status)
	require.NotEmpty(t, rec.Errors)
	first := rec.Errors[0]
	assert.Equal(t, LabelDocumentNumber, first.Label)
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "O", first.Found)
	assert.Equal(t, 6, first.Expected)
}

func TestDecode_FillerSexIsUnspecified(t *testing.T) {
	line2 := "L898902C36UTO7408122<1204159ZE184226B<<<<<10"
	rec, err := Decode(FormatTD3, []string{td3Line1, line2})
	require.NoError(t, err)
	assert.Equal(t, "X", rec.Sex)
}

func TestDecode_RejectsWrongShape(t *testing.T) {
	_, err := Decode(FormatTD3, []string{td3Line1})
	assert.Error(t, err)

	_, err = Decode(FormatTD3, []string{td3Line1, td3Line2[:43]})
	assert.Error(t, err)

	_, err = Decode(FormatTD1, []string{td3Line1, td3Line2, td3Line2})
	assert.Error(t, err)

	_, err = Decode(Format(0), []string{td3Line1, td3Line2})
	assert.Error(t, err)
}

func TestResolve_ExactLinesNeedNoWindowSearch(t *testing.T) {
	rec, err := Resolve([]string{td3Line1, td3Line2})
	require.NoError(t, err)
	assert.True(t, rec.Valid())
	assert.Equal(t, 1, rec.WindowsTried)
}

func TestResolve_SlidingWindowFindsShiftedLine(t *testing.T) {
	rec, err := Resolve([]string{td3Line1, "XY1" + td3Line2})
	require.NoError(t, err)

	assert.True(t, rec.Valid())
	assert.Equal(t, 4, rec.WindowsTried)
	assert.Equal(t, []string{td3Line1, td3Line2}, rec.Lines.Resolved)
}

func TestResolve_UsesLastLines(t *testing.T) {
	noise := "ZZZZZZZZZZ<<ZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZ"
	rec, err := Resolve([]string{noise, td3Line1, td3Line2})
	require.NoError(t, err)
	assert.Equal(t, FormatTD3, rec.Format)
	assert.True(t, rec.Valid())
}

func TestResolve_FallsBackToTD1(t *testing.T) {
	rec, err := Resolve([]string{td1Line1, td1Line2, td1Line3})
	require.NoError(t, err)
	assert.Equal(t, FormatTD1, rec.Format)
	assert.True(t, rec.Valid())
}

func TestResolve_ValidTD1BeatsInvalidTD3(t *testing.T) {
	pad := strings.Repeat("<", 14)
	lines := []string{td1Line1 + pad, td1Line2 + pad, td1Line3 + pad}

	td3, err := Decode(FormatTD3, lines[1:])
	require.NoError(t, err)
	require.False(t, td3.Valid(), "the 44-column pair must decode as an invalid passport")

	rec, err := Resolve(lines)
	require.NoError(t, err)
	assert.Equal(t, FormatTD1, rec.Format)
	assert.Equal(t, StatusValid, rec.Status)
	assert.Equal(t, "D23145890", rec.DocumentNumber)
	assert.Equal(t, 2, rec.WindowsTried)
}

func TestResolve_SlidingWindowFindsShiftedTD1Lines(t *testing.T) {
	rec, err := Resolve([]string{"XX" + td1Line1, "Y" + td1Line2 + "Z", td1Line3 + "<<<"})
	require.NoError(t, err)

	assert.Equal(t, FormatTD1, rec.Format)
	assert.Equal(t, StatusValid, rec.Status)
	assert.Equal(t, "D23145890", rec.DocumentNumber)
	assert.Equal(t, "1974-08-12", rec.BirthDate)
	assert.Equal(t, []string{td1Line1, td1Line2, td1Line3}, rec.Lines.Resolved)
	// 3 x 3 x 4 windows; the valid triple is line 1 offset 2, line 2 offset 1.
	assert.Equal(t, 29, rec.WindowsTried)
}

func TestResolve_KeepsFirstInvalidWhenNothingValidates(t *testing.T) {
	bad := "L898902C35UTO7408122F1204159ZE184226B<<<<<10"
	rec, err := Resolve([]string{td3Line1, bad})
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, rec.Status)
	assert.Equal(t, FormatTD3, rec.Format)
}

func TestResolve_NoFormatFit(t *testing.T) {
	lines := []string{
		"ABCDEFGHIJ<<KLMNOPQRSTUVW",
		"ABCDEFGHIJ<<KLMNOPQRSTUVW",
		"ABCDEFGHIJ<<KLMNOPQRSTUVW",
	}
	_, err := Resolve(lines)

	var noMatch *NoMatchError
	require.ErrorAs(t, err, &noMatch)
	assert.Equal(t, ReasonNoFormatFit, noMatch.Reason)
	assert.Equal(t, lines, noMatch.Lines)
}

func TestProcess_PassportScenario(t *testing.T) {
	text := "P<KGZSURNAME<<NAME<<<<<<<<<<<<<<<<<<<<<<\nA1234567<8KGZ9801015M2801015<<<<<<<<<<<<<<06\n"

	rec, err := Process(text)
	require.NoError(t, err)

	assert.Equal(t, "PASSPORT", rec.DocumentType)
	assert.Equal(t, "SURNAME", rec.Surname)
	assert.Equal(t, "NAME", rec.GivenNames)
	assert.Equal(t, "KGZ", rec.Nationality)
	assert.Equal(t, "1998-01-01", rec.BirthDate)
	assert.Equal(t, "2028-01-01", rec.ExpiryDate)
	assert.Equal(t, "M", rec.Sex)
	assert.Equal(t, "A1234567", rec.DocumentNumber)
	assert.Equal(t, "A", rec.Series)

	// Document number, expiry and composite digits of these values do not
	// satisfy the 7-3-1 formula.
	assert.Equal(t, StatusInvalid, rec.Status)
	assert.Equal(t, []string{LabelDocumentNumber, LabelExpiryDate, LabelComposite}, labels(rec.Errors))

	assert.Len(t, rec.Lines.Normalized[0], 44, "short passport line is padded")
	assert.Len(t, rec.Lines.Raw[0], 40)
}

func TestProcess_ValidPassportAndCorruptedComposite(t *testing.T) {
	line1 := "P<KGZSURNAME<<NAME<<<<<<<<<<<<<<<<<<<<<<"
	valid := "A1234567<6KGZ9801015M2801016<<<<<<<<<<<<<<06"

	rec, err := Process(line1 + "\n" + valid)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, rec.Status)
	assert.Empty(t, rec.Errors)

	corrupted := valid[:43] + "7"
	rec, err = Process(line1 + "\n" + corrupted)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, rec.Status)
	require.Len(t, rec.Errors, 1)
	assert.Equal(t, LabelComposite, rec.Errors[0].Label)
	assert.Equal(t, 2, rec.Errors[0].Line)
	assert.Equal(t, "SURNAME", rec.Surname)
}

func TestProcess_SingleLineIsTooFew(t *testing.T) {
	text := "REPUBLIC OF UTOPIA\n" + td3Line1 + "\nsignature"
	_, err := Process(text)

	var noMatch *NoMatchError
	require.True(t, errors.As(err, &noMatch))
	assert.Equal(t, ReasonTooFewLines, noMatch.Reason)
	assert.Equal(t, []string{td3Line1}, noMatch.Lines)
}

func TestProcess_IDCardWithBirthDateSubstitution(t *testing.T) {
	line2 := "7408132F1204159UTO<<<<<<<<<<<6"
	rec, err := Process(strings.Join([]string{td1Line1, line2, td1Line3}, "\n"))
	require.NoError(t, err)

	assert.Equal(t, FormatTD1, rec.Format)
	assert.Equal(t, StatusInvalid, rec.Status)
	assert.Contains(t, labels(rec.Errors), LabelBirthDate)
	assert.NotContains(t, labels(rec.Errors), LabelDocumentNumber)
	assert.NotContains(t, labels(rec.Errors), LabelExpiryDate)

	assert.Equal(t, "D23145890", rec.DocumentNumber)
	assert.Equal(t, "1974-08-13", rec.BirthDate)
	assert.Equal(t, "2012-04-15", rec.ExpiryDate)
	assert.Equal(t, "UTO", rec.Nationality)
	assert.Equal(t, "ERIKSSON", rec.Surname)
	assert.Equal(t, "ANNA MARIA", rec.GivenNames)
}

func TestProcess_RepairsOCRNoise(t *testing.T) {
	text := strings.Join([]string{
		"UTOPIA PASSPORT",
		"PSUTO ERIKSSON<LANNA<MARIA<<<<<<<<<<<<<<<<KLC",
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10",
	}, "\n")

	rec, err := Process(text)
	require.NoError(t, err)
	assert.True(t, rec.Valid())
	assert.Equal(t, "ANNA MARIA", rec.GivenNames)
	assert.Equal(t, td3Line1, rec.Lines.Normalized[0])
}

func TestRecord_JSON(t *testing.T) {
	rec, err := Process(td3Line1 + "\n" + td3Line2)
	require.NoError(t, err)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "TD3", out["format"])
	assert.Equal(t, "VALID", out["verification_status"])
	assert.Equal(t, []any{}, out["errors"])
	assert.Equal(t, "ERIKSSON", rec.Fields()["surname"])
}

func labels(errs []CheckError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Label
	}
	return out
}
