package compliance

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/auditcore/pkg/audit"
)

// Predicate selects events for a partition, score or recommendation
type Predicate func(e *audit.AuditEvent) bool

// Partition is a named subset of a report's events
type Partition struct {
	Name  string
	Match Predicate
}

// ScoreRule computes a percentage: events matching Numerator among events
// matching Denominator. A nil Denominator means every event in the report.
type ScoreRule struct {
	Name        string
	Denominator Predicate
	Numerator   Predicate
}

// RecommendationRule emits Format with the number of matching events when
// at least one event matches.
type RecommendationRule struct {
	Match  Predicate
	Format string
}

// RuleSet is the scoring definition of one regulation
type RuleSet struct {
	Regulation      audit.Regulation
	Partitions      []Partition
	Scores          []ScoreRule
	Recommendations []RecommendationRule
}

// Resource types and categories the rule sets look for
const (
	ResourcePayment = "PAYMENT"
	ResourceCard    = "CARD"
	ResourcePHI     = "PHI"

	CategoryConsent          = "CONSENT"
	CategoryEncryption       = "ENCRYPTION"
	CategoryAccessControl    = "ACCESS_CONTROL"
	CategoryNetworkSecurity  = "NETWORK_SECURITY"
	CategoryFinancial        = "FINANCIAL"
	CategoryPrivilegedAccess = "PRIVILEGED_ACCESS"
	CategoryTransmission     = "TRANSMISSION"

	// DefaultInternalControlCategory is the category scored by the SOX internal control rule
	DefaultInternalControlCategory = "INTERNAL_CONTROL"
)

// Metadata keys the rule sets look for
const (
	MetaJustification = "justification"
	MetaPurpose       = "purpose"
	MetaEncrypted     = "encrypted"
	MetaMonitored     = "monitored"
	MetaApprover      = "approver"
	MetaAuthorization = "authorization"
)

func action(a audit.Action) Predicate {
	return func(e *audit.AuditEvent) bool { return e.Action == a }
}

func category(c string) Predicate {
	return func(e *audit.AuditEvent) bool { return e.Category == c }
}

func resourceType(types ...string) Predicate {
	return func(e *audit.AuditEvent) bool {
		for _, t := range types {
			if e.ResourceType == t {
				return true
			}
		}
		return false
	}
}

func hasMetadata(key string) Predicate {
	return func(e *audit.AuditEvent) bool { return e.HasMetadata(key) }
}

// metadataTrue accepts a boolean true or the string "true"
func metadataTrue(key string) Predicate {
	return func(e *audit.AuditEvent) bool {
		switch v := e.Metadata[key].(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		default:
			return false
		}
	}
}

func succeeded(e *audit.AuditEvent) bool { return e.Success }

func failed(e *audit.AuditEvent) bool { return !e.Success }

func and(preds ...Predicate) Predicate {
	return func(e *audit.AuditEvent) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

func not(p Predicate) Predicate {
	return func(e *audit.AuditEvent) bool { return !p(e) }
}

// GDPRRules scores data minimization, purpose limitation and storage limitation
func GDPRRules() RuleSet {
	dataAccess := action(audit.ActionRead)
	return RuleSet{
		Regulation: audit.RegulationGDPR,
		Partitions: []Partition{
			{Name: "data_access", Match: dataAccess},
			{Name: "data_export", Match: action(audit.ActionExport)},
			{Name: "data_deletion", Match: action(audit.ActionDelete)},
			{Name: "consent", Match: category(CategoryConsent)},
		},
		Scores: []ScoreRule{
			{Name: "data_minimization", Denominator: dataAccess, Numerator: hasMetadata(MetaJustification)},
			{Name: "purpose_limitation", Numerator: hasMetadata(MetaPurpose)},
			{Name: "storage_limitation", Numerator: func(e *audit.AuditEvent) bool { return e.RetentionDays > 0 }},
		},
		Recommendations: []RecommendationRule{
			{
				Match:  and(dataAccess, not(hasMetadata(MetaJustification))),
				Format: "Add justification metadata to %d data access events",
			},
			{
				Match:  func(e *audit.AuditEvent) bool { return e.RetentionDays > audit.DefaultRetentionDays },
				Format: "Review retention periods for %d events exceeding 7 years",
			},
		},
	}
}

// PCIDSSRules scores secure network, data protection, access control and monitoring
func PCIDSSRules() RuleSet {
	cardholder := resourceType(ResourcePayment, ResourceCard)
	accessControl := category(CategoryAccessControl)
	network := category(CategoryNetworkSecurity)
	return RuleSet{
		Regulation: audit.RegulationPCIDSS,
		Partitions: []Partition{
			{Name: "payment_card", Match: cardholder},
			{Name: "encryption", Match: category(CategoryEncryption)},
			{Name: "access_control", Match: accessControl},
			{Name: "network_security", Match: network},
		},
		Scores: []ScoreRule{
			{Name: "secure_network", Denominator: network, Numerator: succeeded},
			{Name: "data_protection", Denominator: cardholder, Numerator: metadataTrue(MetaEncrypted)},
			{Name: "access_control", Denominator: accessControl, Numerator: succeeded},
			{Name: "monitoring", Numerator: hasMetadata(MetaMonitored)},
		},
		Recommendations: []RecommendationRule{
			{
				Match:  and(cardholder, not(metadataTrue(MetaEncrypted))),
				Format: "Encrypt cardholder data for %d unencrypted payment or card events",
			},
			{
				Match:  and(accessControl, failed),
				Format: "Investigate %d failed access control events",
			},
		},
	}
}

// SOXRules scores internal control, change management and access management.
// internalControlCategory names the category whose outcome is the internal control score.
func SOXRules(internalControlCategory string) RuleSet {
	if internalControlCategory == "" {
		internalControlCategory = DefaultInternalControlCategory
	}
	changes := action(audit.ActionConfigure)
	grants := action(audit.ActionGrant)
	return RuleSet{
		Regulation: audit.RegulationSOX,
		Partitions: []Partition{
			{Name: "financial", Match: category(CategoryFinancial)},
			{Name: "configuration_changes", Match: changes},
			{Name: "access_grants", Match: grants},
			{Name: "privileged_access", Match: category(CategoryPrivilegedAccess)},
		},
		Scores: []ScoreRule{
			{Name: "internal_control", Denominator: category(internalControlCategory), Numerator: succeeded},
			{Name: "change_management", Denominator: changes, Numerator: hasMetadata(MetaApprover)},
			{Name: "access_management", Denominator: grants, Numerator: hasMetadata(MetaAuthorization)},
		},
		Recommendations: []RecommendationRule{
			{
				Match:  and(changes, not(hasMetadata(MetaApprover))),
				Format: "Record an approver for %d unapproved configuration changes",
			},
			{
				Match:  and(grants, not(hasMetadata(MetaAuthorization))),
				Format: "Record authorization for %d unauthorized access grants",
			},
		},
	}
}

// HIPAARules scores PHI access justification, access control and transmission security
func HIPAARules() RuleSet {
	phi := resourceType(ResourcePHI)
	accessControl := category(CategoryAccessControl)
	transmission := category(CategoryTransmission)
	return RuleSet{
		Regulation: audit.RegulationHIPAA,
		Partitions: []Partition{
			{Name: "phi_access", Match: phi},
			{Name: "access_control", Match: accessControl},
			{Name: "transmission", Match: transmission},
		},
		Scores: []ScoreRule{
			{Name: "phi_access_justification", Denominator: phi, Numerator: hasMetadata(MetaJustification)},
			{Name: "access_control", Denominator: accessControl, Numerator: succeeded},
			{Name: "transmission_security", Denominator: transmission, Numerator: metadataTrue(MetaEncrypted)},
		},
		Recommendations: []RecommendationRule{
			{
				Match:  and(phi, not(hasMetadata(MetaJustification))),
				Format: "Add justification metadata to %d PHI access events",
			},
			{
				Match:  and(transmission, not(metadataTrue(MetaEncrypted))),
				Format: "Encrypt %d unprotected PHI transmissions",
			},
		},
	}
}

// Evaluate applies the rule set to events
func (rs RuleSet) Evaluate(events []*audit.AuditEvent) (partitions map[string]int, scores map[string]float64, recommendations []string) {
	partitions = make(map[string]int, len(rs.Partitions))
	for _, p := range rs.Partitions {
		partitions[p.Name] = countMatching(events, p.Match)
	}

	scores = make(map[string]float64, len(rs.Scores))
	for _, s := range rs.Scores {
		var denominator, numerator int
		for _, e := range events {
			if s.Denominator != nil && !s.Denominator(e) {
				continue
			}
			denominator++
			if s.Numerator(e) {
				numerator++
			}
		}
		scores[s.Name] = ratio(numerator, denominator)
	}

	recommendations = []string{}
	for _, r := range rs.Recommendations {
		if n := countMatching(events, r.Match); n > 0 {
			recommendations = append(recommendations, fmt.Sprintf(r.Format, n))
		}
	}
	return partitions, scores, recommendations
}

func countMatching(events []*audit.AuditEvent, p Predicate) int {
	n := 0
	for _, e := range events {
		if p(e) {
			n++
		}
	}
	return n
}

// ratio is numerator/denominator as a percentage, 100 when denominator is zero
func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 100
	}
	return float64(numerator) * 100 / float64(denominator)
}
