package directory

import (
	"context"
	"sort"
	"time"

	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/policy"
)

// Static serves directory data from memory; test and seed wiring only.
type Static struct {
	Businesses    map[string]Business
	Professionals map[string]Professional
	Services      map[string]Service
	Schedules     map[string]calendar.WeekSchedule
	Blocked       map[string][]calendar.BlockedPeriod
	Policies      map[string]policy.Policy
}

func (s *Static) GetBusiness(_ context.Context, businessID string) (Business, error) {
	b, ok := s.Businesses[businessID]
	if !ok {
		return Business{}, ErrNotFound
	}
	return b, nil
}

func (s *Static) GetProfessional(_ context.Context, businessID, professionalID string) (Professional, error) {
	p, ok := s.Professionals[professionalID]
	if !ok || p.BusinessID != businessID {
		return Professional{}, ErrNotFound
	}
	return p, nil
}

func (s *Static) GetService(_ context.Context, businessID, serviceID string) (Service, error) {
	svc, ok := s.Services[serviceID]
	if !ok || svc.BusinessID != businessID {
		return Service{}, ErrNotFound
	}
	return svc, nil
}

func (s *Static) ListServices(_ context.Context, businessID string) ([]Service, error) {
	var out []Service
	for _, svc := range s.Services {
		if svc.BusinessID == businessID {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Static) GetSchedule(_ context.Context, professionalID string) (calendar.WeekSchedule, error) {
	ws, ok := s.Schedules[professionalID]
	if !ok {
		return calendar.WeekSchedule{}, ErrNotFound
	}
	return ws, nil
}

func (s *Static) GetBlockedPeriods(_ context.Context, professionalID string, _, _ time.Time) ([]calendar.BlockedPeriod, error) {
	return s.Blocked[professionalID], nil
}

func (s *Static) GetCancellationPolicy(_ context.Context, businessID string) (policy.Policy, error) {
	p, ok := s.Policies[businessID]
	if !ok {
		return policy.Default(), nil
	}
	return p, nil
}
