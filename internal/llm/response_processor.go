package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shipnotes/internal/logging"
)

// ProcessResponse extracts the JSON payload from a raw model response,
// repairs it if needed, and unmarshals it into target. Model output is
// frequently wrapped in prose or code fences, so extraction runs first.
func ProcessResponse(raw string, target interface{}) (RepairReport, error) {
	logger := logging.GetCurrentLogger()

	if logger != nil {
		logger.Log("Processing model response (%d bytes)", len(raw))
	}

	payload := extractJSON(raw)
	if payload == "" {
		if logger != nil {
			logger.Log("No JSON found in model response: %s", truncateForLog(raw, 200))
		}
		return RepairReport{}, fmt.Errorf("no JSON found in response")
	}

	repaired, report, err := RepairJSON(payload)
	if report.WasRepaired && logger != nil {
		logger.Log("JSON repair applied: %d fixes in %v (%s)",
			report.FixesApplied, report.Duration, strings.Join(report.Strategies, ", "))
	}
	if err != nil {
		if logger != nil {
			logger.LogError("JSON repair", err)
			logger.Log("Unrepairable payload: %s", truncateForLog(payload, 500))
		}
		return report, err
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		if logger != nil {
			logger.Log("JSON parsing failed after repair: %v", err)
			logger.Log("Final JSON: %s", truncateForLog(repaired, 500))
		}
		return report, err
	}

	return report, nil
}

// extractJSON pulls the first JSON object or array out of mixed
// text/JSON content, including ```json code fences.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		lines := strings.Split(raw, "\n")
		var fenced []string
		inFence := false

		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inFence = !inFence
				continue
			}
			if inFence {
				fenced = append(fenced, line)
			}
		}

		if len(fenced) > 0 {
			return strings.Join(fenced, "\n")
		}
	}

	startIdx := strings.Index(raw, "{")
	if startIdx == -1 {
		startIdx = strings.Index(raw, "[")
		if startIdx == -1 {
			return ""
		}
	}

	openChar := raw[startIdx]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	depth := 0
	for i := startIdx; i < len(raw); i++ {
		switch raw[i] {
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return raw[startIdx : i+1]
			}
		}
	}

	// Truncated structure; the repair pass can still close it.
	return raw[startIdx:]
}

func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
