package normalize

import "strings"

// iso639_2to1 maps common ISO 639-2 (3-letter) codes to ISO 639-1 codes.
// Open Library returns 639-2/B bibliographic codes; Google Books returns 639-1.
//
//nolint:gochecknoglobals // Static lookup table for language normalization
var iso639_2to1 = map[string]string{
	"eng": "en", "spa": "es", "fra": "fr", "deu": "de", "ita": "it",
	"por": "pt", "nld": "nl", "rus": "ru", "jpn": "ja", "zho": "zh",
	"kor": "ko", "ara": "ar", "hin": "hi", "pol": "pl", "swe": "sv",
	"nor": "no", "dan": "da", "fin": "fi", "tur": "tr", "ell": "el",
	"heb": "he", "ces": "cs", "hun": "hu", "ron": "ro", "ukr": "uk",
	"cat": "ca", "vie": "vi", "ind": "id", "tha": "th",
	// ISO 639-2/B bibliographic variants
	"ger": "de", "fre": "fr", "dut": "nl", "chi": "zh", "cze": "cs",
	"gre": "el", "per": "fa", "rum": "ro",
}

// languageNameToCode maps common language names to ISO 639-1 codes.
//
//nolint:gochecknoglobals // Static lookup table for language normalization
var languageNameToCode = map[string]string{
	"english": "en", "spanish": "es", "french": "fr", "german": "de",
	"italian": "it", "portuguese": "pt", "dutch": "nl", "russian": "ru",
	"japanese": "ja", "chinese": "zh", "korean": "ko", "arabic": "ar",
	"hindi": "hi", "polish": "pl", "swedish": "sv", "norwegian": "no",
	"danish": "da", "finnish": "fi", "turkish": "tr", "greek": "el",
	"hebrew": "he", "czech": "cs", "hungarian": "hu", "romanian": "ro",
	"ukrainian": "uk", "catalan": "ca", "vietnamese": "vi",
	"indonesian": "id", "thai": "th", "mandarin": "zh",
}

// LanguageCode converts various language representations to ISO 639-1 codes.
// It handles:
//   - ISO 639-1 codes: "en" -> "en"
//   - ISO 639-2 codes: "eng" -> "en"
//   - Locale codes: "en-US", "en_GB" -> "en"
//   - Language names: "English", "ENGLISH" -> "en"
//
// Returns empty string for unrecognized values.
func LanguageCode(raw string) string {
	if raw == "" {
		return ""
	}

	s := strings.ToLower(strings.TrimSpace(sanitizeString(raw)))
	if s == "" {
		return ""
	}

	// Handle locale codes (e.g., "en-US", "en_GB").
	if idx := strings.IndexAny(s, "-_"); idx > 0 {
		s = s[:idx]
	}

	if len(s) == 2 {
		return s
	}

	if len(s) == 3 {
		if code, ok := iso639_2to1[s]; ok {
			return code
		}
	}

	if code, ok := languageNameToCode[s]; ok {
		return code
	}

	return ""
}
