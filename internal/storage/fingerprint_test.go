package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var icaoTD3 = []string{
	"P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<",
	"L898902C36UTO7408122F1204159ZE184226B<<<<<10",
}

func TestFingerprint_DeterministicUnitLength(t *testing.T) {
	a := Fingerprint(icaoTD3)
	b := Fingerprint(icaoTD3)

	require.Len(t, a, FingerprintDims)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestFingerprint_OneCharacterApartIsClose(t *testing.T) {
	misread := []string{
		icaoTD3[0],
		"L898902C36UTO7408132F1204159ZE184226B<<<<<10",
	}
	assert.Greater(t, Cosine(Fingerprint(icaoTD3), Fingerprint(misread)), 0.85)
}

func TestFingerprint_DifferentDocumentsAreFar(t *testing.T) {
	other := []string{
		"P<KGZSURNAME<<NAME<<<<<<<<<<<<<<<<<<<<<<<<<<",
		"A1234567<6KGZ9801015M2801016<<<<<<<<<<<<<<06",
	}
	assert.Less(t, Cosine(Fingerprint(icaoTD3), Fingerprint(other)), 0.6)
}

func TestFingerprint_Empty(t *testing.T) {
	fp := Fingerprint(nil)
	require.Len(t, fp, FingerprintDims)
	assert.Zero(t, Cosine(fp, fp))
}
