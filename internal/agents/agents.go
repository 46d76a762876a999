// Package agents implements the tiered agent debate: two analyst agents
// (fast-momentum, technical) feed a validator judge, and — when the
// validator judge approves, whatever the tier — two risk agents
// (aggressive, conservative) feed a risk judge. Grounded in other_examples' llm-analyzer.go Analyzer:
// same cache/rate-limit/markdown-strip/JSON-parse shape, generalized from
// a single analyzer to six distinct agent roles sharing one LLM driver.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/internal/ratelimit"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

var codeBlockPattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if m := codeBlockPattern.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return response
}

// rawAgentResponse is the JSON shape every agent prompt asks the LLM to
// return.
type rawAgentResponse struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
	Approved   bool    `json:"approved"`
	Reasoning  string  `json:"reasoning"`
}

// Panel runs the full tiered debate over an assembled market view and
// candidate pattern signal.
type Panel struct {
	logger  *zap.Logger
	llm     drivers.LLM
	limiter *ratelimit.Bucket
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]cachedOutput
	ttl   time.Duration
}

type cachedOutput struct {
	output types.AgentOutput
	at     time.Time
}

// NewPanel constructs an agent Panel sharing one LLM driver and rate
// limiter bucket across all six roles.
func NewPanel(logger *zap.Logger, llm drivers.LLM, limiter *ratelimit.Bucket, timeout, cacheTTL time.Duration) *Panel {
	return &Panel{
		logger:  logger,
		llm:     llm,
		limiter: limiter,
		timeout: timeout,
		cache:   make(map[string]cachedOutput),
		ttl:     cacheTTL,
	}
}

// Debate runs analysts -> validator, and — only if the validator judge
// approves — risk agents -> risk judge, assembling the full AgentTrace.
// A validator rejection short-circuits before the risk pair so a rejected
// cycle doesn't burn LLM calls and rate-limit budget it can't use.
func (p *Panel) Debate(ctx context.Context, inst types.Instrument, view types.MarketView, pattern types.PatternResult) (types.AgentTrace, error) {
	var trace types.AgentTrace

	fastMomentum, err := p.run(ctx, "fast_momentum", inst, view, pattern, systemPromptFastMomentum)
	if err != nil {
		return trace, fmt.Errorf("agents: fast momentum: %w", err)
	}
	trace.FastMomentum = fastMomentum

	technical, err := p.run(ctx, "technical", inst, view, pattern, systemPromptTechnical)
	if err != nil {
		return trace, fmt.Errorf("agents: technical: %w", err)
	}
	trace.Technical = technical

	validator, err := p.runJudge(ctx, "validator_judge", inst, view, pattern, []*types.AgentOutput{fastMomentum, technical}, systemPromptValidatorJudge)
	if err != nil {
		return trace, fmt.Errorf("agents: validator judge: %w", err)
	}
	trace.ValidatorJudge = validator

	if validator == nil || !validator.Approved {
		return trace, nil
	}

	aggressive, err := p.run(ctx, "aggressive_risk", inst, view, pattern, systemPromptAggressiveRisk)
	if err != nil {
		return trace, fmt.Errorf("agents: aggressive risk: %w", err)
	}
	trace.AggressiveRisk = aggressive

	conservative, err := p.run(ctx, "conservative_risk", inst, view, pattern, systemPromptConservativeRisk)
	if err != nil {
		return trace, fmt.Errorf("agents: conservative risk: %w", err)
	}
	trace.ConservativeRisk = conservative

	riskJudge, err := p.runJudge(ctx, "risk_judge", inst, view, pattern, []*types.AgentOutput{aggressive, conservative}, systemPromptRiskJudge)
	if err != nil {
		return trace, fmt.Errorf("agents: risk judge: %w", err)
	}
	trace.RiskJudge = riskJudge

	return trace, nil
}

func (p *Panel) run(ctx context.Context, role string, inst types.Instrument, view types.MarketView, pattern types.PatternResult, systemPrompt string) (*types.AgentOutput, error) {
	cacheKey := role + "|" + inst.Symbol + "|" + pattern.Pattern
	if cached, ok := p.fromCache(cacheKey); ok {
		return &cached, nil
	}

	if p.limiter != nil && !p.limiter.Allow() {
		return nil, fmt.Errorf("rate limit exceeded for role %q", role)
	}

	prompt := buildMarketPrompt(inst, view, pattern)
	output, err := p.complete(ctx, role, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	p.toCache(cacheKey, *output)
	return output, nil
}

func (p *Panel) runJudge(ctx context.Context, role string, inst types.Instrument, view types.MarketView, pattern types.PatternResult, inputs []*types.AgentOutput, systemPrompt string) (*types.AgentOutput, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return nil, fmt.Errorf("rate limit exceeded for role %q", role)
	}

	prompt := buildJudgePrompt(inst, view, pattern, inputs)
	return p.complete(ctx, role, systemPrompt, prompt)
}

// complete issues one LLM call, with up to two JSON-repair re-prompts on
// malformed output, per the drivers.LLM contract's documented contract.
func (p *Panel) complete(ctx context.Context, role, systemPrompt, prompt string) (*types.AgentOutput, error) {
	messages := []drivers.LLMMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := p.llm.Complete(ctx, messages, 512, p.timeout)
		if err != nil {
			return nil, err
		}

		clean := stripMarkdownCodeBlock(response)
		var raw rawAgentResponse
		if err := json.Unmarshal([]byte(clean), &raw); err != nil {
			lastErr = err
			messages = append(messages, drivers.LLMMessage{Role: "assistant", Content: response})
			messages = append(messages, drivers.LLMMessage{Role: "user", Content: "That response was not valid JSON. Reply again with ONLY the JSON object, no commentary."})
			continue
		}

		return &types.AgentOutput{
			AgentName:  role,
			Summary:    raw.Summary,
			Confidence: decimal.NewFromFloat(raw.Confidence),
			Approved:   raw.Approved,
			Reasoning:  raw.Reasoning,
		}, nil
	}
	return nil, fmt.Errorf("agents: LLM returned unparseable JSON after repair attempts: %w", lastErr)
}

func (p *Panel) fromCache(key string) (types.AgentOutput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cache[key]
	if !ok || time.Since(c.at) > p.ttl {
		return types.AgentOutput{}, false
	}
	return c.output, true
}

func (p *Panel) toCache(key string, out types.AgentOutput) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[key] = cachedOutput{output: out, at: time.Now()}
}
