package ports

import (
	"context"

	"github.com/mikey/phishguard/internal/core"
)

// Summarizer writes a short narrative paragraph for an abuse report
type Summarizer interface {
	// Summarize describes why the email looks like phishing
	Summarize(ctx context.Context, email *core.Email) (string, error)
}
