package qa

import "context"

// StubValidator is an ArtifactValidator returning canned violations.
// Used in tests and when artifact checking is disabled.
type StubValidator struct {
	Violations []string
}

var _ ArtifactValidator = (*StubValidator)(nil)

// Validate returns the configured violations regardless of the descriptor.
func (s *StubValidator) Validate(_ context.Context, _ Descriptor) []string {
	return s.Violations
}
