package agent

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/arclabs-io/researchgraph/research"
)

// ExtractJSON pulls the JSON payload out of a model response. Models wrap
// JSON in markdown fences or prose more often than not, so the extraction is
// forgiving: strip fences, locate the outermost object or array, try strict
// unmarshaling, and fall back to jsonrepair for almost-JSON.
func ExtractJSON(text string) (json.RawMessage, error) {
	candidate := strings.TrimSpace(text)
	candidate = strings.TrimPrefix(candidate, "```json")
	candidate = strings.TrimPrefix(candidate, "```")
	candidate = strings.TrimSuffix(candidate, "```")
	candidate = strings.TrimSpace(candidate)

	// Without an object or array span there is nothing to repair: jsonrepair
	// would happily quote arbitrary prose into a valid JSON string.
	span := jsonSpan(candidate)
	if span == "" {
		return nil, &research.AgentError{Message: "response contains no JSON object or array"}
	}
	candidate = span

	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil || !json.Valid([]byte(repaired)) {
		return nil, &research.AgentError{Message: "response is not JSON", Cause: err}
	}
	repaired = strings.TrimSpace(repaired)
	if repaired == "" || (repaired[0] != '{' && repaired[0] != '[') {
		return nil, &research.AgentError{Message: "response is not JSON"}
	}
	return json.RawMessage(repaired), nil
}

// Decode parses an agent's JSON output into target, repairing if needed.
func Decode(agentName string, out Output, target any) error {
	raw := out.JSON
	if raw == nil {
		extracted, err := ExtractJSON(out.Text)
		if err != nil {
			return &research.AgentError{Agent: agentName, Message: "no JSON payload in response", Cause: err}
		}
		raw = extracted
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &research.AgentError{Agent: agentName, Message: "unexpected JSON shape", Cause: err}
	}
	return nil
}

// jsonSpan returns the outermost {...} or [...] span in s, or "".
func jsonSpan(s string) string {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	start, closer := objStart, "}"
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start, closer = arrStart, "]"
	}
	if start == -1 {
		return ""
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
