package flow

import "strings"

// frenchMarkers are common French stopwords and greetings checked as whole
// words after lowercasing.
var frenchMarkers = []string{
	"bonjour", "salut", "merci", "je", "vous", "nous", "est", "suis",
	"voudrais", "inscription", "programme", "combien", "quel", "quelle",
	"oui", "non", "pourquoi", "comment",
}

// DetectLanguage guesses the user's language from a message. Arabic script
// wins immediately; French diacritics or stopwords pick French; everything
// else defaults to English.
func DetectLanguage(text string) string {
	for _, r := range text {
		if r >= 0x0600 && r <= 0x06FF {
			return LangArabic
		}
	}

	lower := strings.ToLower(text)
	if strings.ContainsAny(lower, "éèêëàâçùûôî") {
		return LangFrench
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, w := range words {
		for _, marker := range frenchMarkers {
			if w == marker {
				return LangFrench
			}
		}
	}
	return LangEnglish
}
