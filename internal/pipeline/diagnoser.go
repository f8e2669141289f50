package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ashureev/scenegen/internal/domain"
	"github.com/ashureev/scenegen/internal/llm"
)

// DiagnosisLogLimit is how much of a raw failure log is sent for analysis.
// Tracebacks end with the useful part, so the tail is kept.
const DiagnosisLogLimit = 8 << 10

const diagnoserInstruction = `You analyze error logs produced while rendering Manim animation scripts.
Reply with only a JSON object of the form {"error_type": "...", "error_message": "..."}.
error_type is the exception or error class. error_message is the error message, including the file line or location when the log shows it.
Only fill a field when the log clearly supports it; otherwise set that field to "` + domain.Undetermined + `".`

// ErrorDiagnoser summarizes raw failure logs with a single completion call.
type ErrorDiagnoser struct {
	completer llm.Completer
}

// NewErrorDiagnoser creates a diagnoser backed by completer.
func NewErrorDiagnoser(completer llm.Completer) (*ErrorDiagnoser, error) {
	if completer == nil {
		return nil, errNilCompleter
	}
	return &ErrorDiagnoser{completer: completer}, nil
}

// Diagnose returns a structured summary of rawLog.
// Only transport errors are returned; an unusable reply yields an
// undetermined diagnosis.
func (d *ErrorDiagnoser) Diagnose(ctx context.Context, rawLog string) (domain.Diagnosis, error) {
	reply, err := d.completer.Complete(ctx, []domain.Message{
		{Role: domain.RoleSystem, Kind: domain.KindInstruction, Content: diagnoserInstruction},
		{Role: domain.RoleUser, Kind: domain.KindQuery, Content: tail(rawLog, DiagnosisLogLimit)},
	})
	if err != nil {
		return domain.Diagnosis{}, err
	}
	return parseDiagnosis(reply), nil
}

func parseDiagnosis(reply string) domain.Diagnosis {
	diag := domain.Diagnosis{ErrorType: domain.Undetermined, ErrorMessage: domain.Undetermined}

	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return diag
	}

	var parsed struct {
		ErrorType    string `json:"error_type"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return diag
	}
	if v := strings.TrimSpace(parsed.ErrorType); v != "" {
		diag.ErrorType = v
	}
	if v := strings.TrimSpace(parsed.ErrorMessage); v != "" {
		diag.ErrorMessage = v
	}
	return diag
}
