package mrz

var checkWeights = [3]int{7, 3, 1}

// CheckDigit computes the ICAO 9303 7-3-1 check digit of value.
// Digits count as their value, A-Z as 10-35 and every other character,
// including the filler, as 0.
func CheckDigit(value string) int {
	sum := 0
	for i := 0; i < len(value); i++ {
		sum += charValue(value[i]) * checkWeights[i%3]
	}
	return sum % 10
}

func charValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	default:
		return 0
	}
}

// verifyCheck compares the computed digit of value with the declared check
// character. A declared character that is not a digit never verifies.
func verifyCheck(value string, declared byte) (expected int, ok bool) {
	expected = CheckDigit(value)
	if declared < '0' || declared > '9' {
		return expected, false
	}
	return expected, int(declared-'0') == expected
}
