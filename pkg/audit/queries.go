package audit

import "time"

// Canned criteria for the common audit queries. Each returns the first default-size
// page sorted by timestamp descending; callers adjust Page and Size as needed.

// UserActivity selects a user's events in [start, end)
func UserActivity(userID string, start, end time.Time) Criteria {
	return Criteria{UserID: userID, Start: timePtr(start), End: timePtr(end)}
}

// ResourceHistory selects every event touching one resource
func ResourceHistory(resourceType, resourceID string) Criteria {
	return Criteria{ResourceType: resourceType, ResourceID: resourceID}
}

// Correlated selects the events of one logical operation, oldest first
func Correlated(correlationID string) Criteria {
	return Criteria{CorrelationID: correlationID, SortDirection: SortAsc}
}

// SessionEvents selects the events of one session, oldest first
func SessionEvents(sessionID string) Criteria {
	return Criteria{SessionID: sessionID, SortDirection: SortAsc}
}

// ActionOutcome selects events of an action with the given outcome
func ActionOutcome(action Action, success bool) Criteria {
	return Criteria{Action: action, Success: boolPtr(success)}
}

// SeverityWindow selects events of a severity in [start, end)
func SeverityWindow(severity Severity, start, end time.Time) Criteria {
	return Criteria{Severity: severity, Start: timePtr(start), End: timePtr(end)}
}

// ServiceWindow selects events emitted by a service in [start, end)
func ServiceWindow(serviceName string, start, end time.Time) Criteria {
	return Criteria{ServiceName: serviceName, Start: timePtr(start), End: timePtr(end)}
}

// FailedWindow selects failed events in [start, end)
func FailedWindow(start, end time.Time) Criteria {
	return Criteria{Success: boolPtr(false), Start: timePtr(start), End: timePtr(end)}
}

// SecuritySensitiveWindow selects events in [start, end) whose action is one of actions,
// defaulting to the security-sensitive action set
func SecuritySensitiveWindow(start, end time.Time, actions ...Action) Criteria {
	if len(actions) == 0 {
		actions = SecuritySensitiveActions
	}
	return Criteria{Actions: append([]Action(nil), actions...), Start: timePtr(start), End: timePtr(end)}
}

// FromIP selects events originating from an address in [start, end)
func FromIP(ipAddress string, start, end time.Time) Criteria {
	return Criteria{IPAddress: ipAddress, Start: timePtr(start), End: timePtr(end)}
}

// Since selects events recorded at or after since
func Since(since time.Time) Criteria {
	return Criteria{Start: timePtr(since)}
}

// Window selects every event in [start, end)
func Window(start, end time.Time) Criteria {
	return Criteria{Start: timePtr(start), End: timePtr(end)}
}
