package faultclass

import (
	"net/http"
	"strings"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
)

// Keyword sets are disjoint by construction; a term may appear in at most one
// of them. Matching is a lowercase substring scan over the fault message and
// declared fault type.
var preparationKeywords = []string{
	"schema",
	"document format",
	"field mapping",
	"transformation",
	"canonicaliz",
	"serializ",
	"ubl",
	"irn",
	"missing field",
}

var deliveryKeywords = []string{
	"timeout",
	"timed out",
	"connection",
	"network",
	"unreachable",
	"rate limit",
	"too many requests",
	"unauthorized",
	"authentication",
	"forbidden",
	"certificate",
	"signature",
	"encryption",
	"tls",
	"server error",
	"service unavailable",
	"bad gateway",
	"dns",
}

// Sub-keywords within the delivery set that soften or harden severity.
var deliveryMediumKeywords = []string{"timeout", "timed out", "rate limit", "too many requests"}

var deliveryCriticalKeywords = []string{
	"unauthorized",
	"authentication",
	"certificate",
	"signature",
	"encryption",
}

// Terms that force a permanent verdict regardless of status code.
var permanentKeywords = []string{
	"validation failed",
	"invalid document",
	"invalid request",
	"duplicate",
	"already submitted",
	"already exists",
	"expired",
	"revoked",
	"configuration error",
	"misconfigured",
}

var permanentHTTPStatuses = map[int]bool{
	http.StatusBadRequest:          true,
	http.StatusUnauthorized:        true,
	http.StatusForbidden:           true,
	http.StatusNotFound:            true,
	http.StatusConflict:            true,
	http.StatusUnprocessableEntity: true,
}

// Classify maps a fault and its context onto the taxonomy. It never returns
// an error: unmatchable faults come back as UNCLASSIFIED cross-cutting with
// escalated severity, which is the safe default.
func Classify(fault error, fctx Context) Classification {
	text := strings.ToLower(strings.TrimSpace(fctx.FaultType))
	if fault != nil {
		text += " " + strings.ToLower(fault.Error())
	}

	prepMatch := matchesAny(text, preparationKeywords)
	deliveryMatch := matchesAny(text, deliveryKeywords)

	var c Classification
	switch {
	case prepMatch && !deliveryMatch:
		c = Classification{
			Category: CategoryPreparation,
			Severity: domain.SeverityMedium,
			Roles:    []Role{RolePreparation},
			Reason:   "preparation keyword match",
		}
	case deliveryMatch && !prepMatch:
		c = Classification{
			Category: CategoryDelivery,
			Severity: deliverySeverity(text),
			Roles:    []Role{RoleDelivery},
			Reason:   "delivery keyword match",
		}
	case prepMatch && deliveryMatch:
		c = Classification{
			Category: CategoryCrossCutting,
			Severity: domain.SeverityHigh,
			Roles:    []Role{RolePreparation, RoleDelivery},
			Reason:   "both keyword sets matched",
		}
	default:
		c = classifyUnmatched(fctx)
	}

	applyHTTPStatus(&c, fctx.HTTPStatus)

	if matchesAny(text, permanentKeywords) {
		c.Permanent = true
		c.Reason = "permanence keyword override"
	}

	c.EscalationRequired = c.Severity.AtLeast(domain.SeverityHigh) || c.AffectsBoth()

	return c
}

func classifyUnmatched(fctx Context) Classification {
	// An explicit role hint rescues faults whose message matched nothing.
	switch fctx.RoleHint {
	case RolePreparation:
		return Classification{
			Category: CategoryPreparation,
			Severity: domain.SeverityMedium,
			Roles:    []Role{RolePreparation},
			Reason:   "role hint",
		}
	case RoleDelivery:
		return Classification{
			Category: CategoryDelivery,
			Severity: domain.SeverityMedium,
			Roles:    []Role{RoleDelivery},
			Reason:   "role hint",
		}
	}

	// No keyword match and no hint: escalate for safety.
	return Classification{
		Category: CategoryUnclassified,
		Severity: domain.SeverityHigh,
		Roles:    []Role{RolePreparation, RoleDelivery},
		Reason:   "no keyword match",
	}
}

func applyHTTPStatus(c *Classification, status int) {
	switch {
	case status == 0:
		return
	case permanentHTTPStatuses[status]:
		c.Permanent = true
		if c.Category == CategoryUnclassified {
			c.Category = CategoryDelivery
			c.Roles = []Role{RoleDelivery}
		}
	case status == http.StatusTooManyRequests:
		c.Severity = domain.SeverityMedium
	case status >= http.StatusInternalServerError:
		if !c.Severity.AtLeast(domain.SeverityHigh) {
			c.Severity = domain.SeverityHigh
		}
	}
}

func deliverySeverity(text string) domain.Severity {
	if matchesAny(text, deliveryCriticalKeywords) {
		return domain.SeverityCritical
	}
	if matchesAny(text, deliveryMediumKeywords) {
		return domain.SeverityMedium
	}
	return domain.SeverityHigh
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
