package mrz

// Resolve finds the layout and column alignment of normalized MRZ lines.
//
// TD3 is tried first on the last two lines, then TD1 on the last three when
// no valid TD3 alignment exists. Lines longer than the format width are
// searched with every fixed-width window. The first valid combination wins;
// otherwise the first decoded combination (TD3 before TD1) is returned as an
// INVALID record. A *NoMatchError is returned when nothing decodes.
func Resolve(lines []string) (*Record, error) {
	var fallback *Record
	tried := 0

	if len(lines) >= td3Layout.Lines {
		rec, valid, n := search(FormatTD3, lines[len(lines)-td3Layout.Lines:])
		tried += n
		if valid {
			rec.WindowsTried = tried
			return rec, nil
		}
		fallback = rec
	}

	if len(lines) >= td1Layout.Lines {
		rec, valid, n := search(FormatTD1, lines[len(lines)-td1Layout.Lines:])
		tried += n
		if valid {
			rec.WindowsTried = tried
			return rec, nil
		}
		if fallback == nil {
			fallback = rec
		}
	}

	if fallback == nil {
		return nil, &NoMatchError{Reason: ReasonNoFormatFit, Lines: append([]string(nil), lines...)}
	}
	fallback.WindowsTried = tried
	return fallback, nil
}

// search walks the cross product of candidate windows in line-then-window
// order. It returns the first valid record, or the first decoded one with
// valid=false, plus the number of combinations decoded.
func search(format Format, lines []string) (rec *Record, valid bool, tried int) {
	layout := format.Layout()
	candidates := make([][]string, len(lines))
	for i, line := range lines {
		candidates[i] = windows(line, layout.Width)
		if len(candidates[i]) == 0 {
			return nil, false, 0
		}
	}

	combo := make([]string, len(lines))
	var walk func(depth int) bool
	walk = func(depth int) bool {
		if depth == len(candidates) {
			tried++
			r, err := Decode(format, combo)
			if err != nil {
				return false
			}
			if r.Valid() {
				rec, valid = r, true
				return true
			}
			if rec == nil {
				rec = r
			}
			return false
		}
		for _, w := range candidates[depth] {
			combo[depth] = w
			if walk(depth + 1) {
				return true
			}
		}
		return false
	}
	walk(0)
	return rec, valid, tried
}

// windows returns every contiguous width-long substring of line, the line
// itself when it is exactly width long, or nothing when it is shorter.
func windows(line string, width int) []string {
	if len(line) < width {
		return nil
	}
	out := make([]string, 0, len(line)-width+1)
	for start := 0; start+width <= len(line); start++ {
		out = append(out, line[start:start+width])
	}
	return out
}
