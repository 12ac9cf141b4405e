package normalize

import (
	"strings"
	"unicode"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// Baseline is returned when no language signal is strong enough.
var Baseline = models.Language{Code: "en", Name: "English"}

// minKeywordScore is the weighted match total a keyword language must reach.
const minKeywordScore = 2

// scriptShare is the fraction of letters that must belong to a script for it
// to decide the language outright.
const scriptShare = 0.2

type script struct {
	lang   models.Language
	tables []*unicode.RangeTable
}

// Ordered: kana is checked before Han so Japanese text containing kanji is not
// classified as Chinese.
var scripts = []script{
	{models.Language{Code: "ja", Name: "Japanese"}, []*unicode.RangeTable{unicode.Hiragana, unicode.Katakana}},
	{models.Language{Code: "ko", Name: "Korean"}, []*unicode.RangeTable{unicode.Hangul}},
	{models.Language{Code: "zh", Name: "Chinese"}, []*unicode.RangeTable{unicode.Han}},
	{models.Language{Code: "ru", Name: "Russian"}, []*unicode.RangeTable{unicode.Cyrillic}},
	{models.Language{Code: "ar", Name: "Arabic"}, []*unicode.RangeTable{unicode.Arabic}},
	{models.Language{Code: "hi", Name: "Hindi"}, []*unicode.RangeTable{unicode.Devanagari}},
}

type keywordSet struct {
	lang  models.Language
	words map[string]int
}

// Weight 2 marks words that are strong, unambiguous signals.
var keywordSets = []keywordSet{
	{models.Language{Code: "en", Name: "English"}, map[string]int{
		"the": 1, "and": 1, "then": 1, "if": 1, "process": 1, "approve": 2, "order": 1, "with": 1, "when": 1, "customer": 2,
	}},
	{models.Language{Code: "de", Name: "German"}, map[string]int{
		"der": 1, "die": 1, "und": 2, "wenn": 2, "dann": 2, "prozess": 2, "kunde": 2, "wird": 2, "nicht": 2, "genehmigt": 2,
	}},
	{models.Language{Code: "fr", Name: "French"}, map[string]int{
		"le": 1, "la": 1, "les": 1, "et": 1, "est": 1, "processus": 2, "client": 1, "commande": 2, "puis": 2, "si": 1, "une": 1,
	}},
	{models.Language{Code: "es", Name: "Spanish"}, map[string]int{
		"el": 1, "la": 1, "los": 2, "y": 1, "proceso": 2, "cliente": 1, "pedido": 2, "entonces": 2, "si": 1, "una": 1,
	}},
	{models.Language{Code: "pt", Name: "Portuguese"}, map[string]int{
		"o": 1, "os": 1, "e": 1, "processo": 2, "pedido": 1, "então": 2, "não": 2, "uma": 1, "cliente": 1, "aprovação": 2,
	}},
	{models.Language{Code: "it", Name: "Italian"}, map[string]int{
		"il": 2, "gli": 2, "e": 1, "processo": 1, "ordine": 2, "allora": 2, "cliente": 1, "viene": 2, "una": 1,
	}},
	{models.Language{Code: "nl", Name: "Dutch"}, map[string]int{
		"de": 1, "het": 2, "en": 1, "proces": 2, "klant": 2, "bestelling": 2, "wordt": 2, "niet": 2, "dan": 1,
	}},
}

// DetectLanguage is a best-effort classifier: distinctive scripts first, then
// weighted keyword matching, then Baseline.
func DetectLanguage(text string) models.Language {
	if lang, ok := detectScript(text); ok {
		return lang
	}
	return detectKeywords(text)
}

func detectScript(text string) (models.Language, bool) {
	counts := make([]int, len(scripts))
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for i, s := range scripts {
			if unicode.In(r, s.tables...) {
				counts[i]++
				break
			}
		}
	}
	if letters == 0 {
		return models.Language{}, false
	}
	// Japanese mixes kana with Han; any meaningful kana presence wins.
	for i, s := range scripts {
		if counts[i] == 0 {
			continue
		}
		share := float64(counts[i]) / float64(letters)
		if s.lang.Code == "zh" && counts[0] > 0 {
			continue
		}
		if share >= scriptShare {
			return s.lang, true
		}
	}
	return models.Language{}, false
}

func detectKeywords(text string) models.Language {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	best := Baseline
	bestScore := 0
	for _, set := range keywordSets {
		score := 0
		for _, w := range words {
			score += set.words[w]
		}
		if score > bestScore {
			best, bestScore = set.lang, score
		}
	}
	if bestScore < minKeywordScore {
		return Baseline
	}
	return best
}
