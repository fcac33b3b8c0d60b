package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"bloom-graph/src/domain"
)

var levelInstructions = map[domain.Level]string{
	domain.LevelRemember:   "Определите/перечислите ключевые факты из фрагмента.",
	domain.LevelUnderstand: "Кратко объясните основную идею своими словами.",
	domain.LevelApply:      "Опишите, как применить знания к типовой задаче.",
	domain.LevelAnalyze:    "Выделите части, связи и причины.",
	domain.LevelEvaluate:   "Оцените подходы и сформулируйте аргументированный вывод.",
	domain.LevelCreate:     "Предложите новый план/решение на основе текста.",
}

// BuildPrompt создает промпт аннотации фрагмента для уровня таксономии
func BuildPrompt(chunk string, level domain.Level, rubric string) string {
	guidance, ok := levelInstructions[level]
	if !ok {
		guidance = "Сформулируйте краткую аннотацию по таксономии Блума."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Вы эксперт-методист. Проаннотируйте фрагмент по таксономии Блума для уровня: %s.\n", level)
	if rubric = strings.TrimSpace(rubric); rubric != "" {
		fmt.Fprintf(&b, "Критерии оценки: %s\n", rubric)
	}
	fmt.Fprintf(&b, "\nИнструкция: %s\n\n", guidance)
	b.WriteString("Требуемый формат JSON (без пояснений вне JSON):\n")
	fmt.Fprintf(&b, "{\n  \"level\": \"%s\",\n  \"label\": \"<краткое название>\",\n", level)
	b.WriteString("  \"rationale\": \"<почему выбран этот уровень>\",\n  \"score\": <число от 0 до 1>\n}\n\n")
	fmt.Fprintf(&b, "Фрагмент:\n---\n%s\n---", chunk)
	return sanitize(b.String())
}

// sanitize удаляет нулевые байты, которые API отвергает
func sanitize(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// ExtractJSONBlock возвращает JSON из ответа модели: сначала из блоков ``` (в том числе ```json),
// затем весь ответ целиком
func ExtractJSONBlock(text string) (string, error) {
	t := strings.TrimSpace(text)
	if strings.Contains(t, "```") {
		parts := strings.Split(t, "```")
		for i := 1; i < len(parts); i++ {
			block := strings.TrimLeft(parts[i], " \t\r\n")
			block = strings.TrimPrefix(block, "json")
			block = strings.TrimSpace(block)
			if json.Valid([]byte(block)) {
				return block, nil
			}
		}
	}
	if json.Valid([]byte(t)) {
		return t, nil
	}
	return "", fmt.Errorf("%w: в ответе модели нет JSON", domain.ErrEmptyResponse)
}

// ParseAnnotation декодирует ответ модели в результат аннотации
func ParseAnnotation(content string) (domain.AnnotationResult, error) {
	block, err := ExtractJSONBlock(content)
	if err != nil {
		return domain.AnnotationResult{}, err
	}
	var res domain.AnnotationResult
	if err := json.Unmarshal([]byte(block), &res); err != nil {
		return domain.AnnotationResult{}, domain.NewValidationError("ответ модели не соответствует схеме: %v", err)
	}
	return res, nil
}
