package flow

import "testing"

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Hello, I want to join a bootcamp", LangEnglish},
		{"What programs do you have?", LangEnglish},
		{"Bonjour, je voudrais des informations", LangFrench},
		{"C'est très intéressant", LangFrench},
		{"quel programme recommandez", LangFrench},
		{"مرحبا، أريد التسجيل في البرنامج", LangArabic},
		{"hello مرحبا", LangArabic},
		{"", LangEnglish},
		{"12345", LangEnglish},
	}
	for _, c := range cases {
		if got := DetectLanguage(c.text); got != c.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

func TestLocalizeFallsBackToEnglish(t *testing.T) {
	if got := localize("fallback_apology", "de"); got != localizedMessages["fallback_apology"][LangEnglish] {
		t.Errorf("expected English fallback, got %q", got)
	}
	if got := localize("nonexistent_id", LangEnglish); got != "nonexistent_id" {
		t.Errorf("expected id echo for unknown message, got %q", got)
	}
}
