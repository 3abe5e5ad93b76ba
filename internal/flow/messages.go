package flow

import "fmt"

// Supported reply languages.
const (
	LangEnglish = "en"
	LangFrench  = "fr"
	LangArabic  = "ar"
)

// localizedMessages holds every user-facing message keyed by message id then
// language. English is the fallback when a language entry is missing.
var localizedMessages = map[string]map[string]string{
	"unknown_tool": {
		LangEnglish: "Error: the tool '%s' does not exist.",
		LangFrench:  "Erreur : l'outil '%s' n'existe pas.",
		LangArabic:  "خطأ: الأداة '%s' غير موجودة.",
	},
	"arity_mismatch": {
		LangEnglish: "Error: the tool '%s' expects %d argument(s) but received %d.",
		LangFrench:  "Erreur : l'outil '%s' attend %d argument(s) mais en a reçu %d.",
		LangArabic:  "خطأ: الأداة '%s' تتطلب %d من الوسائط لكنها تلقت %d.",
	},
	"tool_failed": {
		LangEnglish: "Error: the tool '%s' failed. Please try again.",
		LangFrench:  "Erreur : l'outil '%s' a échoué. Veuillez réessayer.",
		LangArabic:  "خطأ: فشلت الأداة '%s'. يرجى المحاولة مرة أخرى.",
	},
	"program_not_found": {
		LangEnglish: "Sorry, we could not find a matching program.",
		LangFrench:  "Désolé, nous n'avons trouvé aucun programme correspondant.",
		LangArabic:  "عذرًا، لم نتمكن من العثور على برنامج مطابق.",
	},
	"no_spots_available": {
		LangEnglish: "Unfortunately this program is full. Would you like to explore another session?",
		LangFrench:  "Malheureusement ce programme est complet. Souhaitez-vous découvrir une autre session ?",
		LangArabic:  "للأسف هذا البرنامج مكتمل. هل ترغب في استكشاف دورة أخرى؟",
	},
	"already_registered": {
		LangEnglish: "You are already registered with us. Our team will contact you soon!",
		LangFrench:  "Vous êtes déjà inscrit chez nous. Notre équipe vous contactera bientôt !",
		LangArabic:  "أنت مسجل لدينا بالفعل. سيتواصل معك فريقنا قريبًا!",
	},
	"registration_success": {
		LangEnglish: "Congratulations! Your registration is confirmed. Our team will reach out with next steps.",
		LangFrench:  "Félicitations ! Votre inscription est confirmée. Notre équipe vous contactera pour la suite.",
		LangArabic:  "تهانينا! تم تأكيد تسجيلك. سيتواصل معك فريقنا بالخطوات التالية.",
	},
	"fallback_apology": {
		LangEnglish: "Sorry, something went wrong on our side. Please try again in a moment.",
		LangFrench:  "Désolé, une erreur s'est produite de notre côté. Veuillez réessayer dans un instant.",
		LangArabic:  "عذرًا، حدث خطأ من جانبنا. يرجى المحاولة مرة أخرى بعد قليل.",
	},
}

// localize returns the message for the given id in the requested language,
// falling back to English.
func localize(id, lang string) string {
	byLang, ok := localizedMessages[id]
	if !ok {
		return id
	}
	if msg, ok := byLang[lang]; ok {
		return msg
	}
	return byLang[LangEnglish]
}

// localizef formats a localized message with arguments.
func localizef(id, lang string, args ...interface{}) string {
	return fmt.Sprintf(localize(id, lang), args...)
}
