package tokens

import (
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
)

const (
	truncateHeadChars = 500
	truncatedSuffix   = "… [truncated]"
)

type sizedMessage struct {
	msg  llmadapter.Message
	cost int
}

// Truncate returns a copy of messages that fits budget. The last message is
// always kept whole; older ones are added newest first until one does not
// fit. That one may still be kept as a head-truncated copy if it is long
// plain text. The input slice is never modified.
func Truncate(messages []llmadapter.Message, budget int, est Estimator) []llmadapter.Message {
	if len(messages) == 0 {
		return []llmadapter.Message{}
	}
	if est == nil {
		est = RatioEstimator{}
	}
	last := messages[len(messages)-1]
	kept := []sizedMessage{{msg: last, cost: est.Estimate(last.Text())}}
	remaining := budget - kept[0].cost
	for i := len(messages) - 2; i >= 0; i-- {
		msg := messages[i]
		cost := est.Estimate(msg.Text())
		if cost <= remaining {
			kept = append(kept, sizedMessage{msg: msg, cost: cost})
			remaining -= cost
			continue
		}
		if short, ok := headTruncate(msg); ok {
			if shortCost := est.Estimate(short.Content); shortCost <= remaining {
				kept = append(kept, sizedMessage{msg: short, cost: shortCost})
			}
		}
		break
	}
	out := make([]llmadapter.Message, len(kept))
	for i, s := range kept {
		out[len(kept)-1-i] = s.msg
	}
	return out
}

// Cost sums the estimated cost of messages.
func Cost(messages []llmadapter.Message, est Estimator) int {
	if est == nil {
		est = RatioEstimator{}
	}
	total := 0
	for _, m := range messages {
		total += est.Estimate(m.Text())
	}
	return total
}

func headTruncate(msg llmadapter.Message) (llmadapter.Message, bool) {
	if !msg.IsPlainText() {
		return msg, false
	}
	runes := []rune(msg.Content)
	if len(runes) <= truncateHeadChars {
		return msg, false
	}
	short := msg
	short.Content = string(runes[:truncateHeadChars]) + truncatedSuffix
	return short, true
}
