package reference

import "github.com/chazu/listvm/pkg/validator"

// PresenceReference reports whether iteration artifacts have any items.
// Its tag is the artifacts' tag, and the value is recomputed on every read.
type PresenceReference struct {
	artifacts *IterationArtifacts
}

// NewPresenceReference creates a presence reference over a.
func NewPresenceReference(a *IterationArtifacts) *PresenceReference {
	return &PresenceReference{artifacts: a}
}

func (p *PresenceReference) Tag() validator.Tag { return p.artifacts.Tag() }

func (p *PresenceReference) Value() any { return !p.artifacts.IsEmpty() }
