package handler

import (
	"fmt"
	"sort"
	"sync"
	"unicode"
)

// Reference pricing per 1 million tokens (USD), used for the equivalent-cost
// figure in health output.
const (
	InputPricePerMillion  = 0.50
	OutputPricePerMillion = 1.50

	// TokensPerWord is the approximation ratio (1 word ≈ 1.3 tokens)
	TokensPerWord = 1.3
)

// EstimateTokens estimates the number of tokens in a text string.
// Uses a lightweight approximation: 1 word ≈ 1.3 tokens.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	wordCount := 0
	inWord := false
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if !inWord {
				wordCount++
				inWord = true
			}
		} else {
			inWord = false
		}
	}

	tokens := int(float64(wordCount) * TokensPerWord)
	if tokens == 0 && wordCount > 0 {
		tokens = 1
	}
	return tokens
}

// CalculateCost returns the reference API cost in USD.
func CalculateCost(inputTokens, outputTokens int) float64 {
	inputCost := (float64(inputTokens) / 1_000_000) * InputPricePerMillion
	outputCost := (float64(outputTokens) / 1_000_000) * OutputPricePerMillion
	return inputCost + outputCost
}

// FormatCost formats an amount with precision that suits its size.
func FormatCost(amount float64) string {
	switch {
	case amount < 0.0001:
		return fmt.Sprintf("$%.6f", amount)
	case amount < 0.01:
		return fmt.Sprintf("$%.4f", amount)
	default:
		return fmt.Sprintf("$%.2f", amount)
	}
}

// ProviderUsage accumulates traffic for one provider.
type ProviderUsage struct {
	ProviderID       string `json:"provider_id"`
	Requests         int64  `json:"requests"`
	Failures         int64  `json:"failures"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	BytesOut         int64  `json:"bytes_out"`
}

// UsageSnapshot is a point-in-time copy of the tracker.
type UsageSnapshot struct {
	Requests       int64           `json:"requests"`
	Failures       int64           `json:"failures"`
	EquivalentCost string          `json:"equivalent_cost"`
	Providers      []ProviderUsage `json:"providers"`
}

// UsageTracker counts requests per provider. Safe for concurrent use.
type UsageTracker struct {
	mu        sync.RWMutex
	providers map[string]*ProviderUsage
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{providers: make(map[string]*ProviderUsage)}
}

func (u *UsageTracker) entry(id string) *ProviderUsage {
	p, ok := u.providers[id]
	if !ok {
		p = &ProviderUsage{ProviderID: id}
		u.providers[id] = p
	}
	return p
}

// RecordChat records a successful chat turn and returns its usage.
func (u *UsageTracker) RecordChat(id, prompt, completion string) Usage {
	usage := Usage{
		PromptTokens:     EstimateTokens(prompt),
		CompletionTokens: EstimateTokens(completion),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.entry(id)
	p.Requests++
	p.PromptTokens += int64(usage.PromptTokens)
	p.CompletionTokens += int64(usage.CompletionTokens)
	p.BytesOut += int64(len(completion))
	return usage
}

// RecordMedia records a successful binary call.
func (u *UsageTracker) RecordMedia(id, prompt string, size int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.entry(id)
	p.Requests++
	p.PromptTokens += int64(EstimateTokens(prompt))
	p.BytesOut += int64(size)
}

// RecordFailure records a failed call.
func (u *UsageTracker) RecordFailure(id string) {
	if id == "" {
		id = "unresolved"
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.entry(id)
	p.Requests++
	p.Failures++
}

// Snapshot returns totals and per-provider counters sorted by id.
func (u *UsageTracker) Snapshot() UsageSnapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()

	snap := UsageSnapshot{Providers: make([]ProviderUsage, 0, len(u.providers))}
	var in, out int64
	for _, p := range u.providers {
		snap.Providers = append(snap.Providers, *p)
		snap.Requests += p.Requests
		snap.Failures += p.Failures
		in += p.PromptTokens
		out += p.CompletionTokens
	}
	sort.Slice(snap.Providers, func(i, j int) bool {
		return snap.Providers[i].ProviderID < snap.Providers[j].ProviderID
	})
	snap.EquivalentCost = FormatCost(CalculateCost(int(in), int(out)))
	return snap
}
