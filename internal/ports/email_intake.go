package ports

import (
	"context"

	"github.com/mikey/phishguard/internal/core"
)

// IntakeHandler receives each normalized email from an intake adapter
type IntakeHandler func(ctx context.Context, email *core.Email) error

// EmailIntake defines the interface for adapters that accept raw messages
type EmailIntake interface {
	// Start starts accepting messages
	Start() error

	// Stop stops accepting messages
	Stop() error
}
