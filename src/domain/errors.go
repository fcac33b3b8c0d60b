package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("не найдено")
	// ErrInvalidConfig недопустимая конфигурация
	ErrInvalidConfig = errors.New("недопустимая конфигурация")
	// ErrValidation результат не прошел проверку схемы
	ErrValidation = errors.New("ошибка валидации")
	// ErrEmptyResponse внешний сервис вернул пустой ответ
	ErrEmptyResponse = errors.New("пустой ответ")
)

// NewValidationError оборачивает ErrValidation с описанием
func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NewConfigError оборачивает ErrInvalidConfig с описанием
func NewConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
