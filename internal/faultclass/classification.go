// Package faultclass maps delivery and preparation faults into a taxonomy of
// categories, severities, and retry policies. Classification is data carried
// on a result struct, never control flow: callers branch on the Permanent and
// EscalationRequired fields instead of matching error types.
package faultclass

import (
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
)

// Category is the primary fault taxonomy.
type Category string

const (
	CategoryPreparation  Category = "PREPARATION"
	CategoryDelivery     Category = "DELIVERY"
	CategoryCrossCutting Category = "CROSS_CUTTING"
	CategoryUnclassified Category = "UNCLASSIFIED"
)

func (c Category) String() string { return string(c) }

// Role identifies the operational role affected by a fault.
type Role string

const (
	RolePreparation Role = "PREPARATION"
	RoleDelivery    Role = "DELIVERY"
)

// Context carries the named hints available at classification time. Fields
// are optional; the zero value classifies on the fault message alone.
type Context struct {
	RoleHint     Role
	HTTPStatus   int
	FaultType    string
	AttemptCount int
}

// Classification is the classifier's verdict for a single fault.
type Classification struct {
	Category           Category
	Severity           domain.Severity
	Roles              []Role
	Permanent          bool
	EscalationRequired bool
	Reason             string
}

// AffectsBoth reports whether the fault impacts both operational roles.
func (c Classification) AffectsBoth() bool {
	return len(c.Roles) >= 2
}

// PrimaryRole returns the role the classification is keyed on, defaulting to
// delivery for cross-cutting and unclassified faults.
func (c Classification) PrimaryRole() Role {
	if len(c.Roles) == 1 {
		return c.Roles[0]
	}
	return RoleDelivery
}
