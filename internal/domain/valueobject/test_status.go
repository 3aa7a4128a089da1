package valueobject

import (
	"errors"
	"strings"
)

// TestStatus представляет состояние визуального теста (Value Object)
type TestStatus string

const (
	StatusNew  TestStatus = "NEW"
	StatusPass TestStatus = "PASS"
	StatusFail TestStatus = "FAIL"
)

// Validate проверяет валидность статуса
func (s TestStatus) Validate() error {
	switch s {
	case StatusNew, StatusPass, StatusFail:
		return nil
	default:
		return errors.New("invalid test status")
	}
}

// String возвращает строковое представление статуса
func (s TestStatus) String() string {
	return string(s)
}

// ParseTestStatus нормализует статус из хранилища ("pass" -> PASS).
func ParseTestStatus(raw string) (TestStatus, error) {
	status := TestStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if err := status.Validate(); err != nil {
		return "", err
	}
	return status, nil
}

// IsCompared сообщает, что статус является результатом сравнения с baseline.
func (s TestStatus) IsCompared() bool {
	return s == StatusPass || s == StatusFail
}
