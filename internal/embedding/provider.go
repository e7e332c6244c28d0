// Package embedding wraps a frozen text-encoding model behind a small
// provider interface and supplies the vector math used by clustering and
// the suggestion waterfall.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Provider encodes text into fixed-length unit-normalized vectors.
// Implementations must be deterministic for identical input.
type Provider interface {
	Encode(ctx context.Context, text string) ([]float64, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
}

// Config holds embedding provider configuration.
type Config struct {
	BaseURL      string
	Model        string
	Keywords     []string // configured merchant keywords to reinforce
	TimeoutSecs  int
	BatchSize    int
	KeywordBoost int // extra repetitions per matched keyword
}

// BuildText constructs the text embedded for a transaction: the parsed
// counterparty (or raw label), optional keyword reinforcement, and an
// explicit direction tag so same-text transactions of opposite sign do not
// collapse into one cluster.
func BuildText(base string, income bool, cfg Config) string {
	var b strings.Builder
	b.WriteString(base)

	if cfg.KeywordBoost > 0 {
		lower := strings.ToLower(base)
		for _, kw := range cfg.Keywords {
			if kw == "" || !strings.Contains(lower, strings.ToLower(kw)) {
				continue
			}
			for i := 0; i < cfg.KeywordBoost; i++ {
				b.WriteString(" ")
				b.WriteString(kw)
			}
		}
	}

	if income {
		b.WriteString(" [income]")
	} else {
		b.WriteString(" [expense]")
	}
	return b.String()
}

// validateVector checks a provider response row.
func validateVector(vec []float64, want int) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding vector")
	}
	if want > 0 && len(vec) != want {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), want)
	}
	return nil
}
