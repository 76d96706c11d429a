package provider

import "context"

// ManualProvider is the human-in-the-loop strategy. Every Generate call
// defers: the operator edits the response file in the iteration directory
// and issues the next command when it is ready.
type ManualProvider struct{}

// NewManualProvider creates the manual strategy.
func NewManualProvider() *ManualProvider {
	return &ManualProvider{}
}

// Name returns the registry key for the manual strategy.
func (p *ManualProvider) Name() string {
	return "manual"
}

// Capabilities reports no filesystem access; content arrives out of band.
func (p *ManualProvider) Capabilities() Capabilities {
	return Capabilities{
		FSAccess:        FSAccessNone,
		AcceptsFeedback: false,
		ReportsWrites:   false,
	}
}

// Validate always succeeds; a human needs no pre-flight check.
func (p *ManualProvider) Validate(ctx context.Context) error {
	return nil
}

// Generate always signals deferred completion.
func (p *ManualProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	return Deferred(), nil
}
