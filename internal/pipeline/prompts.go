package pipeline

import (
	"fmt"
	"strings"

	"github.com/ashureev/scenegen/internal/domain"
)

// retryOutputLimit caps how much unparsable model output is echoed back.
const retryOutputLimit = 4000

func systemInstruction(scene string) string {
	return fmt.Sprintf("You are an expert in the Manim animation library and turn user requests into Manim programs. "+
		"Always produce a program that renders an animated video. "+
		"Reply with exactly one fenced code block containing the complete Python program and nothing else: no explanation before or after it. "+
		"The scene class must be named %s.", scene)
}

func initialHistory(query, scene string) domain.History {
	return domain.NewHistory(
		domain.Message{Role: domain.RoleSystem, Kind: domain.KindInstruction, Content: systemInstruction(scene)},
		domain.Message{Role: domain.RoleUser, Kind: domain.KindQuery, Content: query},
	)
}

// FormatExemplars renders retrieved snippets as a single context entry.
func FormatExemplars(snippets []domain.Snippet) string {
	var b strings.Builder
	b.WriteString("Here are working examples for similar requests. Use them as reference where they help.\n\n")
	for i, s := range snippets {
		fmt.Fprintf(&b, "Snippet %d (Query: %s):\n%s\n%s\n%s\n\n", i+1, s.Query, fence, s.Code, fence)
	}
	return strings.TrimRight(b.String(), "\n")
}

func exemplarMessage(snippets []domain.Snippet) domain.Message {
	return domain.Message{Role: domain.RoleUser, Kind: domain.KindExemplars, Content: FormatExemplars(snippets)}
}

// retryMessage combines a failed attempt's code and its diagnosis into one entry.
func retryMessage(rec domain.AttemptRecord, diag domain.Diagnosis, scene string) domain.Message {
	var b strings.Builder
	if len(rec.Code) > 0 {
		b.WriteString("The previous program failed to render.\n\n")
		fmt.Fprintf(&b, "%spython\n%s\n%s\n\n", fence, strings.Join(rec.Code, "\n"), fence)
	} else {
		b.WriteString("The previous reply could not be used.\n\n")
		b.WriteString("Previous reply:\n")
		b.WriteString(truncate(rec.RawOutput, retryOutputLimit))
		b.WriteString("\n\n")
	}
	b.WriteString("Diagnosis:\n")
	b.WriteString(diag.String())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Fix the problem and reply with the complete corrected program in a single fenced code block. The scene class must still be named %s.", scene)
	return domain.Message{Role: domain.RoleUser, Kind: domain.KindRetry, Content: b.String()}
}

func parseFailureDiagnosis() domain.Diagnosis {
	return domain.Diagnosis{
		ErrorType:    "OutputFormatError",
		ErrorMessage: "the reply did not contain a complete fenced code block",
	}
}

func timeoutDiagnosis() domain.Diagnosis {
	return domain.Diagnosis{
		ErrorType:    "Timeout",
		ErrorMessage: "execution exceeded time limit",
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}

// tail returns the last limit bytes of s.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
