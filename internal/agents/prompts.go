package agents

import (
	"fmt"
	"strings"

	"github.com/atlas-desktop/fx-scalper/pkg/types"
)

const jsonResponseInstruction = `Respond in JSON only:
{"summary": "one sentence", "confidence": 0.0-1.0, "approved": true|false, "reasoning": "short justification"}`

const systemPromptFastMomentum = `You are a fast-momentum scalping analyst. You judge whether the last few 1-minute candles show enough immediate directional thrust to justify a scalp entry right now. Weight recent price action heavily over longer context.` + "\n" + jsonResponseInstruction

const systemPromptTechnical = `You are a technical analyst reviewing candle structure, ATR-normalized pattern score, and multi-indicator consensus. You judge whether the broader technical picture supports the proposed trade direction.` + "\n" + jsonResponseInstruction

const systemPromptValidatorJudge = `You are the validator judge. Two analysts have given independent opinions on a candidate scalp trade. Weigh both, resolve disagreement, and decide whether the trade is approved to proceed to risk review.` + "\n" + jsonResponseInstruction

const systemPromptAggressiveRisk = `You are an aggressive risk agent. You favor taking the trade unless risk is clearly unacceptable, weighting opportunity cost of missing a valid setup.` + "\n" + jsonResponseInstruction

const systemPromptConservativeRisk = `You are a conservative risk agent. You favor rejecting the trade unless risk is clearly controlled, weighting capital preservation over opportunity cost.` + "\n" + jsonResponseInstruction

const systemPromptRiskJudge = `You are the risk judge. Two risk agents disagree by design. Decide the final risk verdict for this trade, and, if approved, confirm it still needs human/tiering sign-off.` + "\n" + jsonResponseInstruction

func buildMarketPrompt(inst types.Instrument, view types.MarketView, pattern types.PatternResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instrument: %s\n", inst.Symbol)
	if view.HasTick {
		fmt.Fprintf(&b, "Bid/Ask: %s / %s\n", view.Bid.String(), view.Ask.String())
	}
	if view.HasSpread {
		fmt.Fprintf(&b, "Spread (pips): %s\n", view.SpreadPips.String())
	}
	fmt.Fprintf(&b, "Candle count available: %d\n", len(view.Candles))
	if n := len(view.Candles); n > 0 {
		last := view.Candles[n-1]
		fmt.Fprintf(&b, "Last candle: O=%s H=%s L=%s C=%s V=%s\n",
			last.Open, last.High, last.Low, last.Close, last.Volume)
	}
	if view.TA != nil {
		fmt.Fprintf(&b, "TA consensus: %s (confidence %s, buy=%d sell=%d neutral=%d)\n",
			view.TA.Consensus, view.TA.Confidence, view.TA.BuyCount, view.TA.SellCount, view.TA.NeutralCount)
	}
	if view.OrderFlow != nil {
		fmt.Fprintf(&b, "Order flow: OFI60s=%s volumeDelta=%s sweep=%v VPIN=%s\n",
			view.OrderFlow.OFI60s, view.OrderFlow.VolumeDelta, view.OrderFlow.SweepFlag, view.OrderFlow.VPIN)
	}
	fmt.Fprintf(&b, "Candidate pattern: %s (detected=%v score=%s)\n", pattern.Pattern, pattern.Detected, pattern.Score)
	if len(view.Warnings) > 0 {
		fmt.Fprintf(&b, "Warnings: %s\n", strings.Join(view.Warnings, ", "))
	}
	return b.String()
}

func buildJudgePrompt(inst types.Instrument, view types.MarketView, pattern types.PatternResult, inputs []*types.AgentOutput) string {
	var b strings.Builder
	b.WriteString(buildMarketPrompt(inst, view, pattern))
	b.WriteString("\nPrior agent opinions:\n")
	for _, in := range inputs {
		if in == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: approved=%v confidence=%s reasoning=%q\n", in.AgentName, in.Approved, in.Confidence, in.Reasoning)
	}
	return b.String()
}
