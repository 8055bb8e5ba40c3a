package models

import (
	"fmt"
	"strings"
	"time"
)

type SentimentLabel string

const (
	SentimentNegative   SentimentLabel = "negative"
	SentimentNeutral    SentimentLabel = "neutral"
	SentimentOptimistic SentimentLabel = "optimistic"
)

func ParseSentimentLabel(s string) (SentimentLabel, error) {
	switch SentimentLabel(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentNegative:
		return SentimentNegative, nil
	case SentimentNeutral:
		return SentimentNeutral, nil
	case SentimentOptimistic:
		return SentimentOptimistic, nil
	}
	return "", fmt.Errorf("unknown sentiment label %q", s)
}

// SentimentSignal is one classified earnings event. Produced upstream.
type SentimentSignal struct {
	Date    time.Time      `json:"date"`
	Label   SentimentLabel `json:"sentiment"`
	Score   float64        `json:"score"`
	Summary string         `json:"summary,omitempty"`
}

func (s SentimentSignal) IsBuy() bool {
	return s.Label == SentimentOptimistic
}
