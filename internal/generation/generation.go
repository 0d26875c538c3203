// Package generation provides the two external generation capabilities of
// the cascade: expanding quarterly targets into month-by-month missions,
// and expanding a resolved primary mission into daily habitual actions.
// It is backed by Genkit; without an API key it falls back to a
// deterministic offline planner so the rest of the system stays usable.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/plan"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// MissionRequest is one domain's input to mission expansion. Only domains
// with at least one non-empty target are submitted.
type MissionRequest struct {
	Domain     plan.Domain `json:"domain"`
	Target1    string      `json:"target1"`
	Target2    string      `json:"target2,omitempty"`
	Narrative1 string      `json:"narrative1,omitempty"`
	Narrative2 string      `json:"narrative2,omitempty"`
}

// MissionResult holds the expanded month maps for a domain. Missions2 is
// populated exactly when the request carried a second target: a two-target
// request is expanded in a single call covering both slots.
type MissionResult struct {
	Missions1 plan.MonthMap
	Missions2 plan.MonthMap
}

// MissionGenerator expands targets into month-indexed missions.
// Failures are reported per domain; one domain's failure never rolls back
// another's result.
type MissionGenerator interface {
	ExpandMissions(ctx context.Context, key period.Key, reqs []MissionRequest) (map[plan.Domain]MissionResult, map[plan.Domain]error)
}

// ActionGenerator expands resolved primary missions into daily actions.
type ActionGenerator interface {
	GenerateActions(ctx context.Context, key period.Key, resolved []plan.Resolved) (map[plan.Domain][]string, map[plan.Domain]error)
}

// Config holds provider settings for the Planner.
type Config struct {
	// Provider is the LLM provider: "google", "anthropic", "openai",
	// "openai_compatible". Empty defaults to "google".
	Provider string
	Model    string
	APIKey   string

	// OpenAICompatible config.
	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// Planner implements MissionGenerator and ActionGenerator on Genkit.
type Planner struct {
	g     *genkit.Genkit
	cfg   Config
	llmOn bool

	missionValidator *ResponseValidator
	actionValidator  *ResponseValidator
}

var _ MissionGenerator = (*Planner)(nil)
var _ ActionGenerator = (*Planner)(nil)

// NewPlanner initializes Genkit with the configured LLM provider.
func NewPlanner(ctx context.Context, cfg Config) (*Planner, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	modelID := strings.TrimSpace(cfg.Model)
	if modelID == "" {
		modelID = defaultModelForProvider(provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			anthropicPlugin := &anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}
			g = genkit.Init(ctx, genkit.WithPlugins(anthropicPlugin))
			llmOn = true
			slog.Info("planner initialized", "provider", "anthropic", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Anthropic API key missing; using deterministic fallback planner")
		}

	case "openai":
		if apiKey != "" {
			openaiPlugin := &compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}
			g = genkit.Init(ctx, genkit.WithPlugins(openaiPlugin))
			llmOn = true
			slog.Info("planner initialized", "provider", "openai", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI API key missing; using deterministic fallback planner")
		}

	case "openai_compatible":
		if apiKey != "" {
			compatPlugin := &compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}
			g = genkit.Init(ctx, genkit.WithPlugins(compatPlugin))
			llmOn = true
			slog.Info("planner initialized", "provider", "openai_compatible", "model", modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI compatible API key missing; using deterministic fallback planner")
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+modelID),
			)
			llmOn = true
			slog.Info("planner initialized", "provider", "google", "model", "googleai/"+modelID)
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Google API key missing; using deterministic fallback planner")
		}

	default:
		g = genkit.Init(ctx)
		slog.Warn("unknown LLM provider, using deterministic fallback planner", "provider", provider)
	}

	missionValidator, err := NewResponseValidator(missionResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile mission schema: %w", err)
	}
	actionValidator, err := NewResponseValidator(actionResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}

	return &Planner{
		g:                g,
		cfg:              Config{Provider: provider, Model: modelID, APIKey: apiKey},
		llmOn:            llmOn,
		missionValidator: missionValidator,
		actionValidator:  actionValidator,
	}, nil
}

// LLMEnabled reports whether a real provider is configured.
func (p *Planner) LLMEnabled() bool { return p.llmOn }

// ExpandMissions expands each requested domain independently. A two-target
// domain is expanded in one call covering both slots; it never yields
// output for only one slot when two are present.
func (p *Planner) ExpandMissions(ctx context.Context, key period.Key, reqs []MissionRequest) (map[plan.Domain]MissionResult, map[plan.Domain]error) {
	results := make(map[plan.Domain]MissionResult)
	failures := make(map[plan.Domain]error)

	for _, req := range reqs {
		if req.Target1 == "" && req.Target2 == "" {
			failures[req.Domain] = fmt.Errorf("domain %s: no target to expand", req.Domain)
			continue
		}
		res, err := p.expandOne(ctx, key, req)
		if err != nil {
			failures[req.Domain] = err
			continue
		}
		results[req.Domain] = res
	}
	return results, failures
}

func (p *Planner) expandOne(ctx context.Context, key period.Key, req MissionRequest) (MissionResult, error) {
	if !p.llmOn {
		return fallbackMissions(key, req), nil
	}

	resp, err := genkit.Generate(ctx, p.g,
		ai.WithModelName(modelNameForProvider(p.cfg.Provider, p.cfg.Model)),
		ai.WithSystem(missionSystemPrompt),
		ai.WithPrompt(missionPrompt(key, req)),
	)
	if err != nil {
		return MissionResult{}, fmt.Errorf("expand missions for %s: %w", req.Domain, err)
	}

	parsed, err := p.missionValidator.Validate(resp.Text())
	if err != nil {
		return MissionResult{}, fmt.Errorf("expand missions for %s: %w", req.Domain, err)
	}
	return decodeMissionResult(parsed, req.Target2 != "")
}

// GenerateActions expands each resolved domain independently into an
// ordered daily-action candidate set. Regeneration is a full replacement;
// merging with a prior set is the caller's concern and is never done here.
func (p *Planner) GenerateActions(ctx context.Context, key period.Key, resolved []plan.Resolved) (map[plan.Domain][]string, map[plan.Domain]error) {
	results := make(map[plan.Domain][]string)
	failures := make(map[plan.Domain]error)

	for _, r := range resolved {
		if r.Target == "" {
			failures[r.Domain] = fmt.Errorf("domain %s: no resolvable target", r.Domain)
			continue
		}
		actions, err := p.generateOne(ctx, key, r)
		if err != nil {
			failures[r.Domain] = err
			continue
		}
		results[r.Domain] = actions
	}
	return results, failures
}

func (p *Planner) generateOne(ctx context.Context, key period.Key, r plan.Resolved) ([]string, error) {
	if !p.llmOn {
		return fallbackActions(r), nil
	}

	resp, err := genkit.Generate(ctx, p.g,
		ai.WithModelName(modelNameForProvider(p.cfg.Provider, p.cfg.Model)),
		ai.WithSystem(actionSystemPrompt),
		ai.WithPrompt(actionPrompt(key, r)),
	)
	if err != nil {
		return nil, fmt.Errorf("generate actions for %s: %w", r.Domain, err)
	}

	parsed, err := p.actionValidator.Validate(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("generate actions for %s: %w", r.Domain, err)
	}
	return decodeActionResult(parsed)
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai", "openai_compatible":
		return "gpt-4o-mini"
	default:
		return "gemini-2.5-flash"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	default:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible":
		return model
	default:
		return "googleai/" + model
	}
}
