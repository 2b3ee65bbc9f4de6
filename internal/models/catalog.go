// Package models knows the whisper.cpp model catalog and manages model
// files on disk: listing, downloading and verifying them.
package models

// Model describes one acoustic model.
type Model struct {
	ID           string
	Name         string
	File         string
	URL          string
	SizeBytes    int64
	Downloaded   bool
	Loaded       bool
	Multilingual bool
	Languages    []string
	// Speed, Accuracy are relative ratings; MemoryMB is the working set.
	Speed    float64
	Accuracy float64
	MemoryMB int
	// SHA256 is optional; when set, downloads are checked against it.
	SHA256 string
}

const huggingFaceBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

const mb = 1024 * 1024

// WhisperLanguages are the language codes multilingual whisper models accept.
var WhisperLanguages = []string{
	"en", "zh", "de", "es", "ru", "ko", "fr", "ja", "pt", "tr", "pl", "ca", "nl",
	"ar", "sv", "it", "id", "hi", "fi", "vi", "he", "uk", "el", "ms", "cs", "ro",
	"da", "hu", "ta", "no", "th", "ur", "hr", "bg", "lt", "la", "mi", "ml", "cy",
	"sk", "te", "fa", "lv", "bn", "sr", "az", "sl", "kn", "et", "mk", "br", "eu",
	"is", "hy", "ne", "mn", "bs", "kk", "sq", "sw", "gl", "mr", "pa", "si", "km",
	"sn", "yo", "so", "af", "oc", "ka", "be", "tg", "sd", "gu", "am", "yi", "lo",
	"uz", "fo", "ht", "ps", "tk", "nn", "mt", "sa", "lb", "my", "bo", "tl", "mg",
	"as", "tt", "haw", "ln", "ha", "ba", "jw", "su", "yue",
}

var englishOnly = []string{"en"}

func entry(id, name string, sizeMB int64, multilingual bool, speed, accuracy float64, memMB int) Model {
	file := "ggml-" + id + ".bin"
	langs := englishOnly
	if multilingual {
		langs = WhisperLanguages
	}
	return Model{
		ID:           id,
		Name:         name,
		File:         file,
		URL:          huggingFaceBase + file,
		SizeBytes:    sizeMB * mb,
		Multilingual: multilingual,
		Languages:    langs,
		Speed:        speed,
		Accuracy:     accuracy,
		MemoryMB:     memMB,
	}
}

var catalog = []Model{
	entry("tiny", "Tiny", 39, true, 5.0, 0.60, 125),
	entry("tiny.en", "Tiny (English)", 39, false, 5.2, 0.65, 125),
	entry("base", "Base", 147, true, 3.5, 0.75, 210),
	entry("base.en", "Base (English)", 147, false, 3.7, 0.78, 210),
	entry("small", "Small", 488, true, 2.8, 0.85, 465),
	entry("small.en", "Small (English)", 488, false, 2.9, 0.87, 465),
	entry("medium", "Medium", 1542, true, 1.8, 0.92, 1020),
	entry("medium.en", "Medium (English)", 1542, false, 1.9, 0.93, 1020),
	entry("large", "Large", 3094, true, 1.0, 0.95, 2080),
}

// Catalog returns a copy of every known model.
func Catalog() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a catalog entry by id.
func Lookup(id string) (Model, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Supports reports whether the model accepts the language code. "" and
// "auto" are always accepted.
func (m Model) Supports(lang string) bool {
	if lang == "" || lang == "auto" {
		return true
	}
	for _, l := range m.Languages {
		if l == lang {
			return true
		}
	}
	return false
}
