package model

import "time"

// Severity of a security event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// SecurityEvent is an immutable audit trail entry
type SecurityEvent struct {
	ID        int64     `json:"id"`
	EventType string    `json:"eventType"`
	Severity  Severity  `json:"severity"`
	Username  *string   `json:"username,omitempty"`
	Resource  *string   `json:"resource,omitempty"`
	Method    *string   `json:"method,omitempty"`
	IPAddress *string   `json:"ipAddress,omitempty"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// UsernameOrEmpty returns the username or "" when unset
func (e *SecurityEvent) UsernameOrEmpty() string {
	if e.Username == nil {
		return ""
	}
	return *e.Username
}

// Security event types
const (
	EventAuthenticationFailure      = "AUTHENTICATION_FAILURE"
	EventUnauthorizedAccess         = "UNAUTHORIZED_ACCESS"
	EventSuspiciousActivity         = "SUSPICIOUS_ACTIVITY"
	EventSecurityIncident           = "SECURITY_INCIDENT"
	EventAccountLocked              = "ACCOUNT_LOCKED"
	EventAccountUnlocked            = "ACCOUNT_UNLOCKED"
	EventLockedAccountAccessAttempt = "LOCKED_ACCOUNT_ACCESS_ATTEMPT"
	EventSQLInjectionAttempt        = "SQL_INJECTION_ATTEMPT"
	EventMassAssignmentAttempt      = "MASS_ASSIGNMENT_ATTEMPT"
	EventIDORAttack                 = "IDOR_ATTACK"
	EventBlacklistedTokenUse        = "TOKEN_BLACKLISTED_USE"
	EventLoginSuccess               = "LOGIN_SUCCESS"
	EventLogout                     = "LOGOUT"
	EventTokenRefresh               = "TOKEN_REFRESH"
	EventProfileUpdated             = "PROFILE_UPDATED"
	EventAccountVerified            = "ACCOUNT_VERIFIED"
	EventAccessChanged              = "ACCESS_CHANGED"
	EventSessionsRevoked            = "SESSIONS_REVOKED"
)

// RiskLevel buckets a risk score
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskProfile is computed on demand and never stored
type RiskProfile struct {
	Username              string    `json:"username"`
	RiskScore             int       `json:"riskScore"`
	RiskLevel             RiskLevel `json:"riskLevel"`
	IncidentCount         int       `json:"incidentCount"`
	AbnormalActivityCount int       `json:"abnormalInvoiceCount"`
	TopRiskFactor         string    `json:"topRiskFactor"`
	Recommendations       []string  `json:"recommendations"`
}
