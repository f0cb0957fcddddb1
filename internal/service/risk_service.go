package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/repository"
)

// Risk weights per signal
const (
	scoreAuthFailure      = 5
	scoreUnauthorized     = 20
	scoreCriticalIncident = 50
	scoreHighValueInvoice = 10
	scoreRapidInvoicing   = 30
)

const (
	riskFactorNone     = "None"
	riskFactorSecurity = "Security Incidents (Auth/Access)"
	riskFactorBusiness = "Abnormal Business Activity (Fraud)"

	recommendPasswordRotation = "Enforce Password Rotation or MFA for this user."
	recommendRBACReview       = "Review RBAC permissions. User is attempting to access restricted resources."
	recommendHighValueAudit   = "Audit high-value transactions for approval compliance."
	recommendBotInvestigation = "Investigate for potential bot activity or account takeover."

	dashboardRiskyUsers = 5
	dashboardWindow     = 24 * time.Hour
	defaultRiskWindow   = 30 * 24 * time.Hour
)

// DashboardKPI holds the headline numbers of the security dashboard
type DashboardKPI struct {
	TotalLogEntries int64 `json:"totalLogEntries"`
	Events24h       int64 `json:"events24h"`
	CriticalAlerts  int64 `json:"criticalAlerts"`
	FlaggedInvoices int64 `json:"flaggedInvoices"`
}

// Dashboard is the security overview served to administrators
type Dashboard struct {
	KPI                    DashboardKPI                  `json:"kpi"`
	SeverityChart          map[string]int64              `json:"chart_severity"`
	TypeChart              map[string]int64              `json:"chart_types"`
	TopRiskyUsers          []*model.RiskProfile          `json:"topRiskyUsers"`
	SuspiciousTransactions []model.SuspiciousTransaction `json:"suspiciousTransactions"`
}

// TimelinePoint is the number of events recorded in one hour
type TimelinePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int64     `json:"count"`
}

// RiskService scores users from their security events and business activity
type RiskService struct {
	principals PrincipalStore
	events     SecurityEventReader
	activity   BusinessActivity
	window     time.Duration
	log        *logger.Logger
	now        func() time.Time
}

// NewRiskService creates a new RiskService
func NewRiskService(principals PrincipalStore, events SecurityEventReader, activity BusinessActivity, window time.Duration, log *logger.Logger) *RiskService {
	if window <= 0 {
		window = defaultRiskWindow
	}
	return &RiskService{
		principals: principals,
		events:     events,
		activity:   activity,
		window:     window,
		log:        log.WithComponent("risk"),
		now:        time.Now,
	}
}

// WithClock replaces the time source
func (s *RiskService) WithClock(now func() time.Time) *RiskService {
	s.now = now
	return s
}

// RiskProfile computes the profile of one user
func (s *RiskService) RiskProfile(ctx context.Context, username string) (*model.RiskProfile, error) {
	since := s.now().Add(-s.window)
	events, err := s.events.ListByUsernameSince(ctx, username, since)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, username, events, since)
}

// TopRiskyUsers returns up to limit users with a non-zero score, highest
// first. Equal scores keep principal id order.
func (s *RiskService) TopRiskyUsers(ctx context.Context, limit int) ([]*model.RiskProfile, error) {
	usernames, err := s.principals.ListUsernames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}

	since := s.now().Add(-s.window)
	events, err := s.events.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string][]*model.SecurityEvent)
	for _, e := range events {
		if e.Username != nil {
			byUser[*e.Username] = append(byUser[*e.Username], e)
		}
	}

	profiles := make([]*model.RiskProfile, 0, len(usernames))
	for _, username := range usernames {
		p, err := s.profile(ctx, username, byUser[username], since)
		if err != nil {
			return nil, err
		}
		if p.RiskScore > 0 {
			profiles = append(profiles, p)
		}
	}

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].RiskScore > profiles[j].RiskScore
	})
	if limit >= 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

// InvoiceStats returns the invoice figures shown on the dashboard
func (s *RiskService) InvoiceStats(ctx context.Context) (*model.InvoiceStats, error) {
	return s.activity.InvoiceStats(ctx)
}

// Dashboard aggregates the security overview
func (s *RiskService) Dashboard(ctx context.Context) (*Dashboard, error) {
	since := s.now().Add(-dashboardWindow)

	total, err := s.events.Count(ctx)
	if err != nil {
		return nil, err
	}
	critical, err := s.events.CountCritical(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	recent, err := s.events.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}
	stats, err := s.activity.InvoiceStats(ctx)
	if err != nil {
		return nil, err
	}
	risky, err := s.TopRiskyUsers(ctx, dashboardRiskyUsers)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		KPI: DashboardKPI{
			TotalLogEntries: total,
			Events24h:       int64(len(recent)),
			CriticalAlerts:  critical,
			FlaggedInvoices: stats.HighValueFlagged,
		},
		SeverityChart:          make(map[string]int64),
		TypeChart:              make(map[string]int64),
		TopRiskyUsers:          risky,
		SuspiciousTransactions: stats.SuspiciousTransactions,
	}
	for _, e := range recent {
		d.SeverityChart[string(e.Severity)]++
		d.TypeChart[e.EventType]++
	}
	return d, nil
}

// Timeline buckets the events of the last hours by hour, oldest first
func (s *RiskService) Timeline(ctx context.Context, hours int) ([]TimelinePoint, error) {
	if hours <= 0 {
		return nil, errors.New("hours must be positive")
	}
	events, err := s.events.ListSince(ctx, s.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, err
	}

	counts := make(map[time.Time]int64)
	for _, e := range events {
		counts[e.Timestamp.UTC().Truncate(time.Hour)]++
	}
	points := make([]TimelinePoint, 0, len(counts))
	for hour, n := range counts {
		points = append(points, TimelinePoint{Timestamp: hour, Count: n})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

func (s *RiskService) profile(ctx context.Context, username string, events []*model.SecurityEvent, since time.Time) (*model.RiskProfile, error) {
	var authFailures, unauthorized, criticals int
	for _, e := range events {
		switch {
		case e.EventType == model.EventAuthenticationFailure:
			authFailures++
		case e.EventType == model.EventUnauthorizedAccess:
			unauthorized++
		case e.Severity == model.SeverityCritical:
			criticals++
		}
	}

	highValue, err := s.activity.HighValueTransactionCount(ctx, username, since)
	if err != nil {
		return nil, err
	}
	rapidDays, err := s.activity.RapidActivityDayCount(ctx, username, since)
	if err != nil {
		return nil, err
	}

	securityScore := authFailures*scoreAuthFailure + unauthorized*scoreUnauthorized + criticals*scoreCriticalIncident
	businessScore := highValue*scoreHighValueInvoice + rapidDays*scoreRapidInvoicing
	score := securityScore + businessScore

	factor := riskFactorNone
	if securityScore > 0 {
		factor = riskFactorSecurity
	}
	if businessScore > securityScore {
		factor = riskFactorBusiness
	}

	recommendations := []string{}
	if authFailures > 5 {
		recommendations = append(recommendations, recommendPasswordRotation)
	}
	if unauthorized > 2 {
		recommendations = append(recommendations, recommendRBACReview)
	}
	if highValue > 0 {
		recommendations = append(recommendations, recommendHighValueAudit)
	}
	if rapidDays > 0 {
		recommendations = append(recommendations, recommendBotInvestigation)
	}

	return &model.RiskProfile{
		Username:              username,
		RiskScore:             score,
		RiskLevel:             riskLevel(score),
		IncidentCount:         len(events),
		AbnormalActivityCount: highValue,
		TopRiskFactor:         factor,
		Recommendations:       recommendations,
	}, nil
}

func riskLevel(score int) model.RiskLevel {
	switch {
	case score > 80:
		return model.RiskCritical
	case score > 50:
		return model.RiskHigh
	case score > 20:
		return model.RiskMedium
	}
	return model.RiskLow
}

// FindInvoice returns the invoice activity row with the given reference
func (s *RiskService) FindInvoice(ctx context.Context, ref string) (*model.InvoiceActivity, error) {
	inv, err := s.activity.FindByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}
