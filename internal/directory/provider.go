// Package directory is the read-side view of businesses, professionals and
// service catalogs. The scheduling engine treats everything here as someone
// else's data: it reads, it never writes.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/policy"
)

var ErrNotFound = errors.New("directory: not found")

// Business carries the booking rules the engine enforces for one tenant.
type Business struct {
	ID                     string
	Name                   string
	Timezone               string
	BookingHorizonDays     int
	MinNoticeMinutes       int
	SlotGranularityMinutes int
	AutoConfirm            bool
}

func (b Business) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Professional struct {
	ID         string
	BusinessID string
	Name       string
	Active     bool
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	Price           string
	Description     string
}

// Provider resolves the directory snapshot an operation runs against.
type Provider interface {
	GetBusiness(ctx context.Context, businessID string) (Business, error)
	GetProfessional(ctx context.Context, businessID, professionalID string) (Professional, error)
	GetService(ctx context.Context, businessID, serviceID string) (Service, error)
	ListServices(ctx context.Context, businessID string) ([]Service, error)
	GetSchedule(ctx context.Context, professionalID string) (calendar.WeekSchedule, error)
	GetBlockedPeriods(ctx context.Context, professionalID string, from, to time.Time) ([]calendar.BlockedPeriod, error)
	GetCancellationPolicy(ctx context.Context, businessID string) (policy.Policy, error)
}
