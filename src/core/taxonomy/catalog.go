package taxonomy

import "bloom-graph/src/domain"

// LevelInfo описание уровня для отображения
type LevelInfo struct {
	Level domain.Level `json:"level"`
	Label string       `json:"label"`
	Color string       `json:"color"`
}

// Catalog возвращает уровни в каноническом порядке с подписями и цветами
func Catalog() []LevelInfo {
	return []LevelInfo{
		{Level: domain.LevelRemember, Label: "Знать", Color: "#3b82f6"},
		{Level: domain.LevelUnderstand, Label: "Понимать", Color: "#06b6d4"},
		{Level: domain.LevelApply, Label: "Применять", Color: "#10b981"},
		{Level: domain.LevelAnalyze, Label: "Анализировать", Color: "#f59e0b"},
		{Level: domain.LevelEvaluate, Label: "Оценивать", Color: "#f97316"},
		{Level: domain.LevelCreate, Label: "Создавать", Color: "#ef4444"},
	}
}

// DefaultRubrics критерии по умолчанию, если в хранилище нет активной рубрики
func DefaultRubrics() map[domain.Level]string {
	return map[domain.Level]string{
		domain.LevelRemember:   "Определите/назовите/воспроизведите ключевые факты.",
		domain.LevelUnderstand: "Переформулируйте и объясните идею своими словами.",
		domain.LevelApply:      "Примените метод к типовой задаче.",
		domain.LevelAnalyze:    "Разбейте на части, выделите зависимости/причины.",
		domain.LevelEvaluate:   "Сравните подходы, сформулируйте критерии и вывод.",
		domain.LevelCreate:     "Синтезируйте новое решение/план/вариант.",
	}
}
