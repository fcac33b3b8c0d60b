package taxonomy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"bloom-graph/src/domain"
)

// KeywordTable ключевые слова по уровням; данные конфигурации, а не логика
type KeywordTable map[domain.Level][]string

// DefaultKeywords возвращает встроенную русскоязычную таблицу
func DefaultKeywords() KeywordTable {
	return KeywordTable{
		domain.LevelRemember:   {"назовите", "перечислите", "опишите", "вспомните", "определите"},
		domain.LevelUnderstand: {"объясните", "сравните", "перефразируйте", "классифицируйте", "интерпретируйте"},
		domain.LevelApply:      {"примените", "используйте", "решите", "покажите", "продемонстрируйте"},
		domain.LevelAnalyze:    {"проанализируйте", "разделите", "выделите", "сопоставьте", "обоснуйте"},
		domain.LevelEvaluate:   {"оцените", "критически", "проверьте", "аргументируйте", "сделайте вывод"},
		domain.LevelCreate:     {"создайте", "предложите", "спроектируйте", "сформулируйте", "разработайте"},
	}
}

// LoadKeywords загружает таблицу ключевых слов из YAML файла вида level: [keyword, ...]
func LoadKeywords(path string) (KeywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения таблицы ключевых слов: %w", err)
	}
	return ParseKeywords(data)
}

// ParseKeywords разбирает YAML таблицу ключевых слов
func ParseKeywords(data []byte) (KeywordTable, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ошибка парсинга YAML: %w", err)
	}
	table := make(KeywordTable, len(raw))
	for name, words := range raw {
		lvl, err := domain.ParseLevel(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		table[lvl] = words
	}
	return table.normalized(), nil
}

// normalized возвращает копию таблицы с ключевыми словами в нижнем регистре без пустых строк
func (t KeywordTable) normalized() KeywordTable {
	out := make(KeywordTable, len(t))
	for lvl, words := range t {
		clean := make([]string, 0, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				clean = append(clean, w)
			}
		}
		out[lvl] = clean
	}
	return out
}
