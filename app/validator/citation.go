package validator

var quoteClosers = map[rune]rune{
	'"': '"',
	'“': '”',
	'«': '»',
	'„': '“',
}

// CitationRatio is the share of runes that sit inside quotation marks. Quote
// marks themselves are not counted as quoted text; an unclosed quote is
// ignored.
func CitationRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}

	quoted := 0
	for i := 0; i < len(runes); i++ {
		closer, ok := quoteClosers[runes[i]]
		if !ok {
			continue
		}
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == closer {
				quoted += j - i - 1
				i = j
				break
			}
		}
	}

	return float64(quoted) / float64(len(runes))
}
