package incidents

import (
	"context"
	"errors"
	"strings"

	"rca-backend/internal/incident"
	"rca-backend/internal/runbooks"
	"rca-backend/internal/scenarios"
	"rca-backend/internal/shared/storage/object"
	"rca-backend/internal/shared/util"
	"rca-backend/internal/summarizer"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")
)

const (
	ErrorCodeValidation        = "VALIDATION_ERROR"
	ErrorCodeLLMTimeout        = "LLM_TIMEOUT"
	ErrorCodeLLMSchemaMismatch = "LLM_SCHEMA_MISMATCH"
	ErrorCodeStepLimit         = "STEP_LIMIT"
	ErrorCodeRetrieval         = "RETRIEVAL_ERROR"
	ErrorCodeStorage           = "STORAGE_ERROR"
	ErrorCodeInternal          = "INTERNAL_ERROR"
)

// classifyFailure maps a run failure to an error code and whether a retry could help.
func classifyFailure(err error) (string, bool) {
	switch {
	case err == nil:
		return ErrorCodeInternal, false
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, util.ErrInvalidName),
		errors.Is(err, scenarios.ErrUnknownScenario):
		return ErrorCodeValidation, false
	case errors.Is(err, incident.ErrStepLimit):
		return ErrorCodeStepLimit, false
	case errors.Is(err, summarizer.ErrStructuredOutput):
		return ErrorCodeLLMSchemaMismatch, false
	case errors.Is(err, runbooks.ErrRetrieval):
		return ErrorCodeRetrieval, true
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeLLMTimeout, true
	case errors.Is(err, object.ErrNotFound):
		return ErrorCodeStorage, false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "openai request timeout"):
		return ErrorCodeLLMTimeout, true
	case strings.Contains(msg, "retrieve") && strings.Contains(msg, "knowledge"):
		return ErrorCodeRetrieval, true
	case strings.Contains(msg, "storage") || strings.Contains(msg, "set processing") || strings.Contains(msg, "run lookup"):
		return ErrorCodeStorage, true
	}
	return ErrorCodeInternal, false
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
