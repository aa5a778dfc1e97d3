package errors

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation        = "E100"
	CodeSignatureMismatch = "E110"
	CodeDuplicatePayment  = "E120"
	CodeExpiredLink       = "E130"
	CodePersistence       = "E200"
	CodeTransientDelivery = "E300"
	CodeDeliveryRejected  = "E310"
	CodeRateLimit         = "E500"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	// RetryAfter is the minimum wait the remote side asked for before the next attempt.
	RetryAfter  time.Duration
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// Is matches AppErrors by code so sentinel-style comparisons work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || e == nil || t == nil {
		return false
	}

	return e.Code == t.Code
}

// Kind values are code-only templates for errors.Is checks.
var (
	KindValidation        = &AppError{Code: CodeValidation}
	KindSignatureMismatch = &AppError{Code: CodeSignatureMismatch}
	KindDuplicatePayment  = &AppError{Code: CodeDuplicatePayment}
	KindExpiredLink       = &AppError{Code: CodeExpiredLink}
	KindPersistence       = &AppError{Code: CodePersistence}
	KindTransientDelivery = &AppError{Code: CodeTransientDelivery}
	KindDeliveryRejected  = &AppError{Code: CodeDeliveryRejected}
)

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: fmt.Sprintf("Неверный формат данных. %s", msg),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

func NewSignatureMismatchError(orderID string) *AppError {
	return &AppError{
		Code:      CodeSignatureMismatch,
		Message:   fmt.Sprintf("signature mismatch for order %s", orderID),
		Severity:  SeverityHigh,
		Retryable: false,
	}
}

func NewDuplicatePaymentError(orderID string) *AppError {
	return &AppError{
		Code:      CodeDuplicatePayment,
		Message:   fmt.Sprintf("order %s already paid", orderID),
		Severity:  SeverityMedium,
		Retryable: false,
	}
}

func NewExpiredLinkError(orderID string) *AppError {
	return &AppError{
		Code:        CodeExpiredLink,
		Message:     fmt.Sprintf("payment link %s is unknown or expired", orderID),
		UserMessage: "Ваша попытка оплаты не удалась, так как ссылка для оплаты истекла.",
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodePersistence,
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Временная проблема, попробуйте позже",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeTransientDelivery,
		Message:     fmt.Sprintf("External API error: %s", apiName),
		UserMessage: "Сервис временно недоступен",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

// NewDeliveryRejectedError marks a delivery the platform refused for good (blocked bot, unknown chat).
func NewDeliveryRejectedError(apiName string, cause error) *AppError {
	return &AppError{
		Code:      CodeDeliveryRejected,
		Message:   fmt.Sprintf("External API rejected delivery: %s", apiName),
		Severity:  SeverityLow,
		Retryable: false,
		cause:     cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Слишком много запросов. Попробуйте через %d секунд", retryAfter),
		Severity:    SeverityLow,
		Retryable:   true,
		RetryAfter:  time.Duration(retryAfter) * time.Second,
	}
}
