package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/plan"
)

const missionSystemPrompt = `You are a pragmatic quarterly planning coach.
Given a quarterly target, you break it into one concrete mission per month
of the quarter, each with a short "why" explaining how it serves the target.
Respond with JSON only.`

const actionSystemPrompt = `You are a habit design coach. Given a quarterly
target and its monthly missions, you propose small daily actions the user
can realistically repeat. Respond with JSON only.`

// missionResponseSchema validates the model's mission expansion output:
// a month map per target slot, at most three months each.
const missionResponseSchema = `{
	"type": "object",
	"properties": {
		"target1": {"$ref": "#/$defs/monthMap"},
		"target2": {"$ref": "#/$defs/monthMap"}
	},
	"required": ["target1"],
	"$defs": {
		"monthMap": {
			"type": "object",
			"minProperties": 1,
			"maxProperties": 3,
			"additionalProperties": {
				"type": "object",
				"properties": {
					"mission": {"type": "string", "minLength": 1},
					"why": {"type": "string"}
				},
				"required": ["mission"]
			}
		}
	}
}`

// actionResponseSchema validates the model's daily-action output.
const actionResponseSchema = `{
	"type": "object",
	"properties": {
		"actions": {
			"type": "array",
			"items": {"type": "string", "minLength": 1},
			"minItems": 1
		}
	},
	"required": ["actions"]
}`

func missionPrompt(key period.Key, req MissionRequest) string {
	months := key.Months()
	var b strings.Builder
	fmt.Fprintf(&b, "Planning period: %s (months: %s, %s, %s).\n", key.Display(), months[0], months[1], months[2])
	fmt.Fprintf(&b, "Life domain: %s.\n\n", req.Domain)
	fmt.Fprintf(&b, "Target 1: %s\n", req.Target1)
	if req.Narrative1 != "" {
		fmt.Fprintf(&b, "Context for target 1: %s\n", req.Narrative1)
	}
	if req.Target2 != "" {
		fmt.Fprintf(&b, "Target 2: %s\n", req.Target2)
		if req.Narrative2 != "" {
			fmt.Fprintf(&b, "Context for target 2: %s\n", req.Narrative2)
		}
	}
	b.WriteString("\nFor each target, produce exactly one mission per month with a short why.\n")
	b.WriteString(`Respond with JSON of the shape {"target1": {"<month>": {"mission": "...", "why": "..."}}`)
	if req.Target2 != "" {
		b.WriteString(`, "target2": {...}`)
	}
	b.WriteString("}.\n")
	return b.String()
}

func actionPrompt(key period.Key, r plan.Resolved) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Planning period: %s. Life domain: %s.\n", key.Display(), r.Domain)
	fmt.Fprintf(&b, "Quarterly target: %s\n", r.Target)
	if r.Narrative != "" {
		fmt.Fprintf(&b, "Context: %s\n", r.Narrative)
	}
	if len(r.Missions) > 0 {
		b.WriteString("Monthly missions:\n")
		for month, entry := range r.Missions {
			fmt.Fprintf(&b, "- %s: %s\n", month, entry.Mission)
		}
	}
	b.WriteString("\nPropose 5 to 8 small daily actions supporting this plan.\n")
	b.WriteString(`Respond with JSON of the shape {"actions": ["...", "..."]}.` + "\n")
	return b.String()
}

func decodeMissionResult(validJSON string, wantTarget2 bool) (MissionResult, error) {
	var payload struct {
		Target1 plan.MonthMap `json:"target1"`
		Target2 plan.MonthMap `json:"target2"`
	}
	if err := json.Unmarshal([]byte(validJSON), &payload); err != nil {
		return MissionResult{}, fmt.Errorf("decode mission response: %w", err)
	}
	if wantTarget2 && len(payload.Target2) == 0 {
		return MissionResult{}, fmt.Errorf("mission response missing target2 slot")
	}
	if !wantTarget2 {
		payload.Target2 = nil
	}
	return MissionResult{Missions1: payload.Target1, Missions2: payload.Target2}, nil
}

func decodeActionResult(validJSON string) ([]string, error) {
	var payload struct {
		Actions []string `json:"actions"`
	}
	if err := json.Unmarshal([]byte(validJSON), &payload); err != nil {
		return nil, fmt.Errorf("decode action response: %w", err)
	}
	return payload.Actions, nil
}

// fallbackMissions is the deterministic offline expansion used when no LLM
// provider is configured. Same input, same output, so retries are
// idempotent.
func fallbackMissions(key period.Key, req MissionRequest) MissionResult {
	res := MissionResult{Missions1: fallbackMonthMap(key, req.Target1)}
	if req.Target2 != "" {
		res.Missions2 = fallbackMonthMap(key, req.Target2)
	}
	return res
}

var fallbackPhases = [3]struct {
	mission string
	why     string
}{
	{"Lay the groundwork for %q", "early momentum makes the quarter stick"},
	{"Build a weekly routine around %q", "consistency beats intensity"},
	{"Consolidate progress on %q and review", "a visible finish sets up next quarter"},
}

func fallbackMonthMap(key period.Key, target string) plan.MonthMap {
	months := key.Months()
	out := make(plan.MonthMap, len(months))
	for i, month := range months {
		out[month] = plan.MissionEntry{
			Mission: fmt.Sprintf(fallbackPhases[i].mission, target),
			Why:     fallbackPhases[i].why,
		}
	}
	return out
}

// fallbackActions derives a small daily-action set from the resolved
// target and its current missions.
func fallbackActions(r plan.Resolved) []string {
	actions := []string{
		fmt.Sprintf("Spend 15 minutes on %q", r.Target),
		fmt.Sprintf("Log yesterday's progress toward %q", r.Target),
		"Review the monthly mission each Monday",
	}
	for _, month := range sortedMonths(r.Missions) {
		actions = append(actions, fmt.Sprintf("%s focus: %s", month, r.Missions[month].Mission))
	}
	return actions
}

func sortedMonths(m plan.MonthMap) []string {
	if len(m) == 0 {
		return nil
	}
	// Calendar order, not map order.
	ordered := []string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	}
	var out []string
	for _, month := range ordered {
		if _, ok := m[month]; ok {
			out = append(out, month)
		}
	}
	return out
}
