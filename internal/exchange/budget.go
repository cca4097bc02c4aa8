package exchange

import (
	"github.com/MrWong99/visaroom/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly four characters per token across common tokenizers.
const charsPerToken = 4

// historyShare is the fraction of the model's context window the prompt may
// fill.
const historyShare = 0.75

// estimateTokens returns a rough token count for s.
func estimateTokens(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// fitHistory drops the oldest turns until msgs fits into budget tokens. The
// first message (the officer's opening question) and the newest message are
// always kept. It returns the kept messages and how many were dropped.
func fitHistory(msgs []llm.Message, budget int) ([]llm.Message, int) {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Content)
	}
	if total <= budget || len(msgs) <= 2 {
		return msgs, 0
	}

	drop := 0
	for i := 1; i < len(msgs)-1 && total > budget; i++ {
		total -= estimateTokens(msgs[i].Content)
		drop++
	}
	out := make([]llm.Message, 0, len(msgs)-drop)
	out = append(out, msgs[0])
	out = append(out, msgs[1+drop:]...)
	return out, drop
}

// historyBudget returns the token budget for conversation messages given the
// model capabilities, or -1 when the window is unknown.
func historyBudget(caps llm.ModelCapabilities, systemPrompt string, maxTokens int) int {
	if caps.ContextWindow <= 0 {
		return -1
	}
	return int(float64(caps.ContextWindow)*historyShare) - estimateTokens(systemPrompt) - maxTokens
}
