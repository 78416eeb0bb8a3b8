// Package analytics records points and activity and aggregates them for the
// dashboard.
package analytics

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/logbus"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/store"
)

const DefaultHistoryLimit = 100

// AccountCounter reports account totals per status. *vault.Vault satisfies it.
type AccountCounter interface {
	Counts(ctx context.Context) (int, map[model.AccountStatus]int, error)
}

// Events is the points side of the event stream. *logbus.Bus satisfies it.
type Events interface {
	Points(ev logbus.PointsEvent)
}

type Analytics struct {
	store    store.Telemetry
	accounts AccountCounter
	events   Events
	logger   *zap.Logger
	now      func() time.Time
}

func New(st store.Telemetry, accounts AccountCounter, events Events, logger *zap.Logger) *Analytics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analytics{
		store:    st,
		accounts: accounts,
		events:   events,
		logger:   logger.With(zap.String("component", "analytics")),
		now:      time.Now,
	}
}

type ProjectTotals struct {
	Total          float64    `json:"total"`
	ActiveAccounts int        `json:"activeAccounts"`
	LatestUpdate   *time.Time `json:"latestUpdate"`
}

type ProjectPoints struct {
	URL    string  `json:"url"`
	Points float64 `json:"points"`
}

type AccountTotals struct {
	Total          float64         `json:"total"`
	ProjectsCount  int             `json:"projectsCount"`
	ProjectDetails []ProjectPoints `json:"projectDetails"`
}

type DashboardStats struct {
	TotalAccounts       int     `json:"totalAccounts"`
	ActiveAccounts      int     `json:"activeAccounts"`
	IdleAccounts        int     `json:"idleAccounts"`
	ErrorAccounts       int     `json:"errorAccounts"`
	TotalPoints         float64 `json:"totalPoints"`
	ProjectsCount       int     `json:"projectsCount"`
	AccountsWithPoints  int     `json:"accountsWithPoints"`
	AvgPointsPerAccount float64 `json:"avgPointsPerAccount"`
}

// RecordPoints stores one entry and publishes the project's new totals.
func (a *Analytics) RecordPoints(ctx context.Context, accountID, projectURL string, points float64, details map[string]any) error {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(projectURL) == "" {
		return errs.Validation("accountId and projectUrl are required")
	}
	if math.IsNaN(points) || math.IsInf(points, 0) {
		return errs.Validation("points must be a finite number")
	}
	if _, err := a.store.InsertPoints(ctx, model.PointEntry{
		AccountID:  accountID,
		ProjectURL: projectURL,
		Points:     points,
		Details:    details,
		Timestamp:  a.now(),
	}); err != nil {
		return err
	}

	if a.events != nil {
		totals, err := a.PointsByProject(ctx, projectURL)
		if err != nil {
			a.logger.Warn("points totals unavailable", zap.String("project", projectURL), zap.Error(err))
			return nil
		}
		a.events.Points(logbus.PointsEvent{ProjectURL: projectURL, Totals: totals[projectURL]})
	}
	return nil
}

// PointsByProject aggregates points per project URL. An empty projectURL
// covers every project.
func (a *Analytics) PointsByProject(ctx context.Context, projectURL string) (map[string]ProjectTotals, error) {
	entries, err := a.store.FindPoints(ctx, store.Query{ProjectURL: projectURL})
	if err != nil {
		return nil, err
	}
	type agg struct {
		total    float64
		accounts map[string]struct{}
		latest   time.Time
	}
	byURL := make(map[string]*agg)
	for _, e := range entries {
		g, ok := byURL[e.ProjectURL]
		if !ok {
			g = &agg{accounts: make(map[string]struct{})}
			byURL[e.ProjectURL] = g
		}
		g.total += e.Points
		g.accounts[e.AccountID] = struct{}{}
		if e.Timestamp.After(g.latest) {
			g.latest = e.Timestamp
		}
	}

	out := make(map[string]ProjectTotals, len(byURL))
	for url, g := range byURL {
		pt := ProjectTotals{Total: g.total, ActiveAccounts: len(g.accounts)}
		if !g.latest.IsZero() {
			latest := g.latest
			pt.LatestUpdate = &latest
		}
		out[url] = pt
	}
	return out, nil
}

// PointsByAccount aggregates points per account with a per-project
// breakdown. An empty accountID covers every account.
func (a *Analytics) PointsByAccount(ctx context.Context, accountID string) (map[string]AccountTotals, error) {
	entries, err := a.store.FindPoints(ctx, store.Query{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	byAccount := make(map[string]map[string]float64)
	totals := make(map[string]float64)
	for _, e := range entries {
		projects, ok := byAccount[e.AccountID]
		if !ok {
			projects = make(map[string]float64)
			byAccount[e.AccountID] = projects
		}
		projects[e.ProjectURL] += e.Points
		totals[e.AccountID] += e.Points
	}

	out := make(map[string]AccountTotals, len(byAccount))
	for id, projects := range byAccount {
		details := make([]ProjectPoints, 0, len(projects))
		for url, pts := range projects {
			details = append(details, ProjectPoints{URL: url, Points: pts})
		}
		sort.Slice(details, func(i, j int) bool { return details[i].URL < details[j].URL })
		out[id] = AccountTotals{Total: totals[id], ProjectsCount: len(projects), ProjectDetails: details}
	}
	return out, nil
}

// PointsHistory returns an account's entries newest first. limit <= 0 uses
// DefaultHistoryLimit.
func (a *Analytics) PointsHistory(ctx context.Context, accountID, projectURL string, limit int) ([]model.PointEntry, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, errs.Validation("accountId is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return a.store.FindPoints(ctx, store.Query{AccountID: accountID, ProjectURL: projectURL, Desc: true, Limit: limit})
}

func (a *Analytics) DashboardStats(ctx context.Context) (DashboardStats, error) {
	var st DashboardStats
	if a.accounts != nil {
		total, by, err := a.accounts.Counts(ctx)
		if err != nil {
			return DashboardStats{}, err
		}
		st.TotalAccounts = total
		st.ActiveAccounts = by[model.AccountBusy]
		st.IdleAccounts = by[model.AccountIdle]
		st.ErrorAccounts = by[model.AccountError]
	}

	entries, err := a.store.FindPoints(ctx, store.Query{})
	if err != nil {
		return DashboardStats{}, err
	}
	projects := make(map[string]struct{})
	accounts := make(map[string]struct{})
	for _, e := range entries {
		st.TotalPoints += e.Points
		projects[e.ProjectURL] = struct{}{}
		accounts[e.AccountID] = struct{}{}
	}
	st.ProjectsCount = len(projects)
	st.AccountsWithPoints = len(accounts)
	if len(accounts) > 0 {
		st.AvgPointsPerAccount = math.Round(st.TotalPoints/float64(len(accounts))*100) / 100
	}
	return st, nil
}

// LogActivity stores an activity line. Failures are logged and dropped.
func (a *Analytics) LogActivity(ctx context.Context, accountID, projectURL, activity, status string, details map[string]any) {
	if _, err := a.store.InsertActivity(ctx, model.ActivityLog{
		AccountID:  accountID,
		ProjectURL: projectURL,
		Activity:   activity,
		Status:     status,
		Details:    details,
		Timestamp:  a.now(),
	}); err != nil {
		a.logger.Warn("activity log dropped", zap.String("account", accountID), zap.String("activity", activity), zap.Error(err))
	}
}

// RecentActivity returns activity lines newest first.
func (a *Analytics) RecentActivity(ctx context.Context, accountID, projectURL string, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return a.store.FindActivity(ctx, store.Query{AccountID: accountID, ProjectURL: projectURL, Desc: true, Limit: limit})
}
