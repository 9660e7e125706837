package domain

const (
	regionalIndicatorA = 0x1F1E6
	regionalIndicatorZ = 0x1F1FF
)

// DecodeFlags returns the country codes of the flag emoji in text, in order
// of appearance. Each regional indicator is consumed at most once, so
// "🇫🇷🇩" yields ["FR"] and the trailing indicator is dropped.
func DecodeFlags(text string) []CountryHint {
	runes := []rune(text)
	var hints []CountryHint
	for i := 0; i < len(runes); i++ {
		if i+1 < len(runes) && isRegionalIndicator(runes[i]) && isRegionalIndicator(runes[i+1]) {
			hints = append(hints, CountryHint([]rune{
				runes[i] - regionalIndicatorA + 'A',
				runes[i+1] - regionalIndicatorA + 'A',
			}))
			i++
		}
	}
	return hints
}

func isRegionalIndicator(r rune) bool {
	return r >= regionalIndicatorA && r <= regionalIndicatorZ
}
