package directory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookline/bookline/internal/calendar"
	"github.com/bookline/bookline/internal/policy"
	"github.com/bookline/bookline/libs/db"
)

// Postgres reads directory data straight from the shared database.
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) GetBusiness(ctx context.Context, businessID string) (Business, error) {
	var b Business
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, name, timezone, booking_horizon_days, min_notice_minutes, slot_granularity_minutes, auto_confirm
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(&b.ID, &b.Name, &b.Timezone, &b.BookingHorizonDays, &b.MinNoticeMinutes, &b.SlotGranularityMinutes, &b.AutoConfirm)
	if errors.Is(err, pgx.ErrNoRows) {
		return Business{}, ErrNotFound
	}
	return b, err
}

func (p *Postgres) GetProfessional(ctx context.Context, businessID, professionalID string) (Professional, error) {
	var pr Professional
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, is_active
		FROM professionals
		WHERE business_id = $1 AND id = $2
	`, businessID, professionalID).Scan(&pr.ID, &pr.BusinessID, &pr.Name, &pr.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Professional{}, ErrNotFound
	}
	return pr, err
}

func (p *Postgres) GetService(ctx context.Context, businessID, serviceID string) (Service, error) {
	var s Service
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price::text, description
		FROM services
		WHERE business_id = $1 AND id = $2
	`, businessID, serviceID).Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.Price, &s.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return Service{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) ListServices(ctx context.Context, businessID string) ([]Service, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price::text, description
		FROM services
		WHERE business_id = $1
		ORDER BY name ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.Price, &s.Description); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (p *Postgres) GetSchedule(ctx context.Context, professionalID string) (calendar.WeekSchedule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT weekday, is_working, start_minute, end_minute, break_start_minute, break_end_minute
		FROM working_hours
		WHERE professional_id = $1
		ORDER BY weekday ASC
	`, professionalID)
	if err != nil {
		return calendar.WeekSchedule{}, err
	}
	defer rows.Close()

	var ws calendar.WeekSchedule
	for rows.Next() {
		var (
			weekday              int
			working              bool
			startMin, endMin     int
			breakStart, breakEnd *int
		)
		if err := rows.Scan(&weekday, &working, &startMin, &endMin, &breakStart, &breakEnd); err != nil {
			return calendar.WeekSchedule{}, err
		}
		if weekday < 0 || weekday > 6 {
			continue
		}
		day := calendar.DaySchedule{Open: working, OpenMinute: startMin, CloseMinute: endMin}
		if breakStart != nil && breakEnd != nil {
			day.Breaks = []calendar.Window{{StartMinute: *breakStart, EndMinute: *breakEnd}}
		}
		ws.Days[weekday] = day
	}
	if rows.Err() != nil {
		return calendar.WeekSchedule{}, rows.Err()
	}
	return ws, nil
}

func (p *Postgres) GetBlockedPeriods(ctx context.Context, professionalID string, from, to time.Time) ([]calendar.BlockedPeriod, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, start_time, end_time, reason, recurring
		FROM blocked_periods
		WHERE professional_id = $1
		  AND (recurring OR (end_time > $2 AND start_time < $3))
		ORDER BY start_time ASC
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calendar.BlockedPeriod
	for rows.Next() {
		var bp calendar.BlockedPeriod
		if err := rows.Scan(&bp.ID, &bp.Start, &bp.End, &bp.Reason, &bp.Recurring); err != nil {
			return nil, err
		}
		out = append(out, bp)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (p *Postgres) GetCancellationPolicy(ctx context.Context, businessID string) (policy.Policy, error) {
	var (
		allow  bool
		window int
	)
	err := p.pool.QueryRow(ctx, `
		SELECT allow_cancellation, cancellation_window_hours
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(&allow, &window)
	if errors.Is(err, pgx.ErrNoRows) {
		return policy.Policy{}, ErrNotFound
	}
	if err != nil {
		return policy.Policy{}, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT threshold_hours, fee_percent
		FROM cancellation_fee_tiers
		WHERE business_id = $1
		ORDER BY threshold_hours ASC
	`, businessID)
	if err != nil {
		return policy.Policy{}, err
	}
	defer rows.Close()

	pol := policy.Policy{AllowCancellation: allow, WindowHours: window}
	for rows.Next() {
		var tier policy.FeeTier
		if err := rows.Scan(&tier.ThresholdHours, &tier.FeePercent); err != nil {
			return policy.Policy{}, err
		}
		pol.Tiers = append(pol.Tiers, tier)
	}
	if rows.Err() != nil {
		return policy.Policy{}, rows.Err()
	}
	if len(pol.Tiers) == 0 {
		pol.Tiers = policy.Default().Tiers
	}
	return pol, nil
}
