package audit

import (
	"errors"
	"fmt"
	"strings"
)

// Action is the kind of operation an audit event records
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionRead         Action = "READ"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionLogin        Action = "LOGIN"
	ActionLogout       Action = "LOGOUT"
	ActionAccess       Action = "ACCESS"
	ActionExport       Action = "EXPORT"
	ActionImport       Action = "IMPORT"
	ActionApprove      Action = "APPROVE"
	ActionReject       Action = "REJECT"
	ActionCancel       Action = "CANCEL"
	ActionSuspend      Action = "SUSPEND"
	ActionActivate     Action = "ACTIVATE"
	ActionDeactivate   Action = "DEACTIVATE"
	ActionReset        Action = "RESET"
	ActionGrant        Action = "GRANT"
	ActionRevoke       Action = "REVOKE"
	ActionAuthenticate Action = "AUTHENTICATE"
	ActionAuthorize    Action = "AUTHORIZE"
	ActionValidate     Action = "VALIDATE"
	ActionProcess      Action = "PROCESS"
	ActionExecute      Action = "EXECUTE"
	ActionSync         Action = "SYNC"
	ActionBackup       Action = "BACKUP"
	ActionRestore      Action = "RESTORE"
	ActionMigrate      Action = "MIGRATE"
	ActionConfigure    Action = "CONFIGURE"
	ActionDeploy       Action = "DEPLOY"
	ActionScale        Action = "SCALE"
)

// AllActions lists every known action in declaration order
var AllActions = []Action{
	ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionLogin, ActionLogout,
	ActionAccess, ActionExport, ActionImport, ActionApprove, ActionReject, ActionCancel,
	ActionSuspend, ActionActivate, ActionDeactivate, ActionReset, ActionGrant, ActionRevoke,
	ActionAuthenticate, ActionAuthorize, ActionValidate, ActionProcess, ActionExecute, ActionSync,
	ActionBackup, ActionRestore, ActionMigrate, ActionConfigure, ActionDeploy, ActionScale,
}

// SecuritySensitiveActions are the actions that always make an event security sensitive
var SecuritySensitiveActions = []Action{
	ActionLogin, ActionLogout, ActionAuthenticate, ActionAuthorize, ActionGrant, ActionRevoke,
}

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction converts a case-insensitive name to an Action
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Severity orders events by importance: TRACE < DEBUG < INFO < WARN < ERROR < CRITICAL
type Severity string

const (
	SeverityTrace    Severity = "TRACE"
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// AllSeverities lists the severities from lowest to highest
var AllSeverities = []Severity{
	SeverityTrace, SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical,
}

// Level returns the ordinal of s, or -1 for an unknown severity
func (s Severity) Level() int {
	for i, known := range AllSeverities {
		if s == known {
			return i
		}
	}
	return -1
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Level() >= other.Level()
}

// ParseSeverity converts a case-insensitive name to a Severity
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.Level() < 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Regulation names a compliance regime tracked through ComplianceFlags
type Regulation string

const (
	RegulationGDPR   Regulation = "GDPR"
	RegulationPCIDSS Regulation = "PCI_DSS"
	RegulationSOX    Regulation = "SOX"
	RegulationHIPAA  Regulation = "HIPAA"
)

// Regulations lists the regulations that require long-term retention
var Regulations = []Regulation{RegulationGDPR, RegulationPCIDSS, RegulationSOX, RegulationHIPAA}

// Categories produced by the service shorthands
const (
	CategorySecurity        = "SECURITY"
	CategoryCompliance      = "COMPLIANCE"
	CategoryDataAccess      = "DATA_ACCESS"
	CategoryAPIRequest      = "API_REQUEST"
	CategoryBusinessProcess = "BUSINESS_PROCESS"
	CategoryConfiguration   = "CONFIGURATION"
	CategoryError           = "ERROR"
)

// Defaults
const (
	// DefaultRetentionDays is roughly seven years
	DefaultRetentionDays = 2555
	// ExportTTLDays is how long an export artifact stays downloadable
	ExportTTLDays = 7
)

var (
	// ErrInvalidEvent is returned when an event misses a required field
	ErrInvalidEvent = errors.New("invalid audit event")
	// ErrUnsupportedFormat is returned for an unknown export format
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrExportNotFound is returned when an export id is unknown or expired
	ErrExportNotFound = errors.New("export not found")
	// ErrInvalidCriteria is returned for an unusable search or aggregation request
	ErrInvalidCriteria = errors.New("invalid search criteria")
)

// ValidationError describes why an event was rejected. It matches ErrInvalidEvent with errors.Is.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidEvent, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

func validationError(reason, message string) error {
	return &ValidationError{Reason: reason, Message: message}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
