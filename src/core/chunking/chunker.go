package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMinLen минимальная длина фрагмента в символах
const DefaultMinLen = 20

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:-[\p{L}\p{N}]+)*`)

// SplitIntoChunks разбивает текст на фрагменты по границам предложений.
// Фрагменты короче minLen отбрасываются; если не подходит ни один,
// возвращается весь очищенный текст одним фрагментом.
func SplitIntoChunks(text string, minLen int) []string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return []string{}
	}

	var chunks []string
	for _, part := range splitSentenceEnds(cleaned) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) >= minLen {
			chunks = append(chunks, part)
		}
	}
	if len(chunks) == 0 {
		return []string{cleaned}
	}
	return chunks
}

// splitSentenceEnds режет уже очищенный текст по пробелу, следующему за . ! или ?
func splitSentenceEnds(cleaned string) []string {
	var parts []string
	start := 0
	for i := 1; i < len(cleaned); i++ {
		if cleaned[i] != ' ' {
			continue
		}
		switch cleaned[i-1] {
		case '.', '!', '?':
			parts = append(parts, cleaned[start:i])
			start = i + 1
		}
	}
	if start < len(cleaned) {
		parts = append(parts, cleaned[start:])
	}
	return parts
}

// SplitSentences разбивает текст на предложения по . ! ? и переводам строк
func SplitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', '\n', '\r':
			return true
		}
		return false
	})
	sentences := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// Tokens возвращает словоформы текста в нижнем регистре в порядке появления
func Tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// TokenSet возвращает множество словоформ текста в нижнем регистре
func TokenSet(text string) map[string]struct{} {
	tokens := Tokens(text)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard считает |A∩B| / |A∪B|; пустое множество дает 0
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
