package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DashboardSnapshot is the static view rendered on page load.
type DashboardSnapshot struct {
	Users []User
	Logs  []AuditEntry
}

// UserLister is the read side of the credential store used by the dashboard.
type UserLister interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// DashboardService loads the user list and audit log for the dashboard page.
type DashboardService struct {
	users UserLister
	audit *AuditLogger
}

func NewDashboardService(users UserLister, audit *AuditLogger) *DashboardService {
	return &DashboardService{users: users, audit: audit}
}

// Snapshot fetches both lists concurrently; they are independent reads.
func (s *DashboardService) Snapshot(ctx context.Context, logLimit int) (DashboardSnapshot, error) {
	var snap DashboardSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := s.users.ListUsers(gctx)
		if err != nil {
			return err
		}
		snap.Users = users
		return nil
	})
	g.Go(func() error {
		logs, err := s.audit.List(gctx, logLimit, 0)
		if err != nil {
			return err
		}
		snap.Logs = logs
		return nil
	})
	if err := g.Wait(); err != nil {
		return DashboardSnapshot{}, err
	}
	return snap, nil
}
