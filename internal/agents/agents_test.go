package agents

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fx-scalper/internal/drivers"
	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []drivers.LLMMessage, maxTokens int, timeout time.Duration) (string, error) {
	r := f.responses[f.calls%len(f.responses)]
	f.calls++
	return r, nil
}

func testInstrument() types.Instrument {
	return types.Instrument{Symbol: "EUR_USD"}
}

func TestDebateAssemblesFullTrace(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"summary":"ok","confidence":0.8,"approved":true,"reasoning":"looks fine"}`,
	}}
	panel := NewPanel(zap.NewNop(), llm, nil, time.Second, time.Minute)

	trace, err := panel.Debate(context.Background(), testInstrument(), types.MarketView{}, types.PatternResult{Pattern: "orb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trace.FastMomentum == nil || trace.Technical == nil || trace.ValidatorJudge == nil ||
		trace.AggressiveRisk == nil || trace.ConservativeRisk == nil || trace.RiskJudge == nil {
		t.Fatalf("expected all six trace fields populated, got %+v", trace)
	}
}

func TestCompleteRepairsMarkdownWrappedJSON(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"```json\n{\"summary\":\"ok\",\"confidence\":0.5,\"approved\":false,\"reasoning\":\"no\"}\n```",
	}}
	panel := NewPanel(zap.NewNop(), llm, nil, time.Second, time.Minute)

	out, err := panel.complete(context.Background(), "technical", systemPromptTechnical, "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Approved {
		t.Fatalf("expected approved=false from parsed response")
	}
}

func TestCompleteRetriesOnMalformedJSON(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"not json at all",
		`{"summary":"ok","confidence":0.9,"approved":true,"reasoning":"recovered"}`,
	}}
	panel := NewPanel(zap.NewNop(), llm, nil, time.Second, time.Minute)

	out, err := panel.complete(context.Background(), "technical", systemPromptTechnical, "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Approved {
		t.Fatalf("expected the repaired response to be parsed")
	}
}
