package wire

// Shift rotates every letter of line forward by shift places, preserving
// case. Non-letters pass through unchanged. The encryption marker line is
// fixed under the shift.
func Shift(line string, shift int) string {
	if line == EncryptedMarker {
		return line
	}
	out := []byte(line)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = 'a' + (c-'a'+byte(shift))%26
		case c >= 'A' && c <= 'Z':
			out[i] = 'A' + (c-'A'+byte(shift))%26
		}
	}
	return string(out)
}

// ShiftLines applies Shift to each line, returning a new slice.
func ShiftLines(lines []string, shift int) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = Shift(line, shift)
	}
	return out
}

// Unshift reverses a ShiftAmount rotation.
func Unshift(line string) string {
	return Shift(line, 26-ShiftAmount)
}
