package nodes

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"bloom-graph/src/core/chunking"
	"bloom-graph/src/domain"
)

const (
	DefaultMaxNodes = 30
	DefaultMinFreq  = 1
	// MaxContextLen длина контекстного фрагмента в символах
	MaxContextLen = 240
	minTokenLen   = 3
)

var wordRe = regexp.MustCompile(`\p{L}+(?:-\p{L}+)?`)

// Candidate кандидат в узлы знаний до классификации
type Candidate struct {
	Title          string          `json:"title"`
	Key            string          `json:"key"`
	ContextSnippet string          `json:"context_snippet"`
	Frequency      int             `json:"frequency"`
	NodeType       domain.NodeType `json:"node_type"`
}

// Extractor выделяет узлы знаний: имена собственные и частые ключевые слова
type Extractor struct {
	Stopwords map[string]struct{}
}

// NewExtractor создает экстрактор; nil список стоп-слов заменяется встроенным
func NewExtractor(stopwords map[string]struct{}) *Extractor {
	if stopwords == nil {
		stopwords = DefaultStopwords()
	}
	return &Extractor{Stopwords: stopwords}
}

// Extract возвращает не более maxNodes кандидатов: сначала имена собственные
// в порядке появления, затем ключевые слова по убыванию частоты
func (e *Extractor) Extract(text string, maxNodes, minFreq int) []Candidate {
	sentences := chunking.SplitSentences(text)

	counts := make(map[string]int)
	var order []string // ключи в порядке первого появления
	display := make(map[string]string)
	properDisplay := make(map[string]string)
	var proper []string

	for _, sent := range sentences {
		for _, tok := range wordRe.FindAllString(sent, -1) {
			key := strings.ToLower(tok)
			if utf8.RuneCountInString(key) < minTokenLen {
				continue
			}
			if _, stop := e.Stopwords[key]; stop {
				continue
			}
			if _, seen := counts[key]; !seen {
				order = append(order, key)
				display[key] = tok
			}
			counts[key]++
			if first, _ := utf8.DecodeRuneInString(tok); unicode.IsUpper(first) {
				proper = append(proper, key)
				if _, ok := properDisplay[key]; !ok {
					properDisplay[key] = tok
				}
			}
		}
	}

	type pick struct {
		key      string
		nodeType domain.NodeType
	}
	var picks []pick
	emitted := make(map[string]struct{})

	for _, key := range proper {
		if _, ok := emitted[key]; ok {
			continue
		}
		emitted[key] = struct{}{}
		picks = append(picks, pick{key: key, nodeType: domain.NodeTypeProperNoun})
	}

	ranked := make([]string, len(order))
	copy(ranked, order)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	for _, key := range ranked {
		if _, ok := emitted[key]; ok {
			continue
		}
		if counts[key] < minFreq {
			continue
		}
		emitted[key] = struct{}{}
		picks = append(picks, pick{key: key, nodeType: domain.NodeTypeKeyword})
	}

	if maxNodes >= 0 && len(picks) > maxNodes {
		picks = picks[:maxNodes]
	}

	out := make([]Candidate, 0, len(picks))
	for _, p := range picks {
		title := display[p.key]
		if p.nodeType == domain.NodeTypeProperNoun {
			title = properDisplay[p.key]
		}
		out = append(out, Candidate{
			Title:          title,
			Key:            p.key,
			ContextSnippet: truncateRunes(findContext(sentences, p.key), MaxContextLen),
			Frequency:      counts[p.key],
			NodeType:       p.nodeType,
		})
	}
	return out
}

// findContext ищет первое предложение, содержащее key целым словом без учета регистра
func findContext(sentences []string, key string) string {
	for _, sent := range sentences {
		if containsWord(strings.ToLower(sent), key) {
			return sent
		}
	}
	return ""
}

func containsWord(haystack, word string) bool {
	if word == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(haystack[offset:], word)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(word)
		before, _ := utf8.DecodeLastRuneInString(haystack[:start])
		after, _ := utf8.DecodeRuneInString(haystack[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(haystack) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(haystack[start:])
		offset = start + size
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
