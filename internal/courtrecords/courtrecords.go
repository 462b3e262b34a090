// Package courtrecords defines the optional court-records collaborator
// (spec §9, SPEC_FULL.md supplement C.3): the red-flag detector's
// court_records check depends only on this interface, never on where case
// data comes from.
package courtrecords

import (
	"context"

	"nonprofitvet/internal/domain"
)

// Lookup resolves court cases naming an organization.
type Lookup interface {
	Lookup(ctx context.Context, orgName string) ([]domain.CourtCase, error)
}

// NoopLookup is a collaborator that always reports no cases, used where no
// court-records data source is configured.
type NoopLookup struct{}

// Lookup always returns an empty result.
func (NoopLookup) Lookup(ctx context.Context, orgName string) ([]domain.CourtCase, error) {
	return nil, nil
}
