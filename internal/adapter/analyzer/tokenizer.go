package analyzer

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// tokensPerWord approximates LLM tokens per English word.
const tokensPerWord = 1.3

// stopwords are common English function words plus the archaic forms found
// in older canon translations ("thus", "unto", "thee").
var stopwords = setOf(
	"a", "an", "and", "are", "as", "at", "be", "by", "for",
	"from", "has", "he", "in", "is", "it", "its", "of", "on",
	"that", "the", "to", "was", "were", "will", "with", "this",
	"have", "had", "but", "not", "you", "your", "we", "our",
	"they", "their", "she", "her", "his", "if", "or", "so",
	"do", "does", "did", "been", "being", "would", "there",
	"could", "should", "may", "might", "must", "shall", "which",
	"who", "whom", "what", "when", "where", "why", "how", "all",
	"thus", "then", "unto", "thee", "thou", "ye", "said",
)

// Tokenizer produces the index terms used for BM25 postings and query
// scoring. Both sides must use the same settings.
type Tokenizer struct {
	stem bool
}

func NewTokenizer(useStemming bool) *Tokenizer {
	return &Tokenizer{stem: useStemming}
}

// Tokenize folds Pāli diacritics, lowercases and splits on anything that is
// not a letter or digit. Digit runs are always kept so citation numbers stay
// searchable ("SN 35.28" gives sn, 35, 28). Other words shorter than two
// characters and stopwords are dropped.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(strings.ToLower(Fold(text)))
	tokens := words[:0]
	for _, w := range words {
		switch {
		case isNumber(w):
		case len(w) < 2:
			continue
		case stopwords[w]:
			continue
		case t.stem:
			w = english.Stem(w, false)
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// CountTokens estimates the LLM token count of text for context budgets.
func (t *Tokenizer) CountTokens(text string) int {
	return int(float64(len(splitWords(text))) * tokensPerWord)
}

// Fold strips combining marks: "Saṃyutta" becomes "Samyutta".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isNumber(s string) bool {
	return s != "" && strings.TrimLeft(s, "0123456789") == ""
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
