package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basket/quarterdeck/internal/bus"
	"github.com/basket/quarterdeck/internal/plan"
)

const timeLayout = "2006-01-02 15:04:05"

// Workflow stage indicator values stored per (period, domain).
const (
	StagePrimaryPending = "primary_selection_pending"
	StageComplete       = "complete"
)

// PlanRow is one domain's durable record for a period.
type PlanRow struct {
	Period       string
	Domain       plan.Domain
	Targets      plan.Targets
	DailyActions []string // the user's persisted selection subset
	Stage        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LoadPlan reads all domain rows for a period. Domains with no row are
// absent from the result; a missing period yields an empty map, not an
// error.
func (s *Store) LoadPlan(ctx context.Context, periodKey string) (map[plan.Domain]PlanRow, error) {
	stmt := `
		SELECT period, domain, target1, narrative1, target2, narrative2,
		       primary_is_target1, missions1, missions2, daily_actions, stage,
		       created_at, updated_at
		FROM plans
		WHERE period = ?
	`
	rows, err := s.db.QueryContext(ctx, stmt, periodKey)
	if err != nil {
		return nil, fmt.Errorf("query plan rows: %w", err)
	}
	defer rows.Close()

	out := make(map[plan.Domain]PlanRow)
	for rows.Next() {
		row, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		out[row.Domain] = row
	}
	return out, rows.Err()
}

func scanPlanRow(rows *sql.Rows) (PlanRow, error) {
	var (
		row                  PlanRow
		domain               string
		primary              sql.NullBool
		missions1, missions2 string
		actions              string
		createdStr, updated  string
	)
	err := rows.Scan(&row.Period, &domain, &row.Targets.Target1, &row.Targets.Narrative1,
		&row.Targets.Target2, &row.Targets.Narrative2, &primary,
		&missions1, &missions2, &actions, &row.Stage, &createdStr, &updated)
	if err != nil {
		return PlanRow{}, fmt.Errorf("scan plan row: %w", err)
	}

	row.Domain = plan.Domain(domain)
	if primary.Valid {
		v := primary.Bool
		row.Targets.PrimaryIsTarget1 = &v
	}
	if err := json.Unmarshal([]byte(missions1), &row.Targets.Missions1); err != nil {
		return PlanRow{}, fmt.Errorf("decode missions1: %w", err)
	}
	if err := json.Unmarshal([]byte(missions2), &row.Targets.Missions2); err != nil {
		return PlanRow{}, fmt.Errorf("decode missions2: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &row.DailyActions); err != nil {
		return PlanRow{}, fmt.Errorf("decode daily_actions: %w", err)
	}
	if row.CreatedAt, err = time.Parse(timeLayout, createdStr); err != nil {
		row.CreatedAt = time.Now()
	}
	if row.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		row.UpdatedAt = time.Now()
	}
	return row, nil
}

// SaveTargets upserts the target and narrative fields of a domain row,
// leaving missions, gate decision and selections untouched.
func (s *Store) SaveTargets(ctx context.Context, periodKey string, d plan.Domain, t plan.Targets) error {
	stmt := `
		INSERT INTO plans (period, domain, target1, narrative1, target2, narrative2)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(period, domain) DO UPDATE SET
			target1 = excluded.target1,
			narrative1 = excluded.narrative1,
			target2 = excluded.target2,
			narrative2 = excluded.narrative2,
			updated_at = datetime('now')
	`
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, stmt, periodKey, string(d),
			t.Target1, t.Narrative1, t.Target2, t.Narrative2)
		return err
	})
	if err != nil {
		return fmt.Errorf("save targets %s/%s: %w", periodKey, d, err)
	}
	s.publish(bus.TopicTargetsSaved, bus.TargetsSavedEvent{Period: periodKey, Domain: string(d)})
	return nil
}

// SaveMissions overwrites the mission fields of a domain row. Full
// overwrite per expansion; missions are never merged. An empty stage
// leaves the stored stage indicator untouched, so a re-expansion cannot
// downgrade a gate decision already recorded as complete.
func (s *Store) SaveMissions(ctx context.Context, periodKey string, d plan.Domain, missions1, missions2 plan.MonthMap, stage string) error {
	m1, err := encodeMonthMap(missions1)
	if err != nil {
		return err
	}
	m2, err := encodeMonthMap(missions2)
	if err != nil {
		return err
	}
	stmt := `
		INSERT INTO plans (period, domain, missions1, missions2, stage)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(period, domain) DO UPDATE SET
			missions1 = excluded.missions1,
			missions2 = excluded.missions2,
			stage = excluded.stage,
			updated_at = datetime('now')
	`
	args := []any{periodKey, string(d), m1, m2, stage}
	if stage == "" {
		stmt = `
			INSERT INTO plans (period, domain, missions1, missions2)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(period, domain) DO UPDATE SET
				missions1 = excluded.missions1,
				missions2 = excluded.missions2,
				updated_at = datetime('now')
		`
		args = []any{periodKey, string(d), m1, m2}
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, stmt, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("save missions %s/%s: %w", periodKey, d, err)
	}
	return nil
}

// SetPrimary persists the primary-target gate decision for a domain.
func (s *Store) SetPrimary(ctx context.Context, periodKey string, d plan.Domain, isTarget1 bool) error {
	stmt := `
		INSERT INTO plans (period, domain, primary_is_target1, stage)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(period, domain) DO UPDATE SET
			primary_is_target1 = excluded.primary_is_target1,
			stage = excluded.stage,
			updated_at = datetime('now')
	`
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, stmt, periodKey, string(d), isTarget1, StageComplete)
		return err
	})
	if err != nil {
		return fmt.Errorf("set primary %s/%s: %w", periodKey, d, err)
	}
	return nil
}

// SaveSelections writes the entire selection map for a period in one
// transaction. This is the single write a debounce cycle produces.
func (s *Store) SaveSelections(ctx context.Context, periodKey string, selections map[plan.Domain][]string) error {
	stmt := `
		INSERT INTO plans (period, domain, daily_actions)
		VALUES (?, ?, ?)
		ON CONFLICT(period, domain) DO UPDATE SET
			daily_actions = excluded.daily_actions,
			updated_at = datetime('now')
	`
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for d, subset := range selections {
			encoded, err := encodeActions(subset)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, stmt, periodKey, string(d), encoded); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("save selections %s: %w", periodKey, err)
	}
	return nil
}

// ListPeriods returns all period keys with at least one stored row, most
// recently updated first.
func (s *Store) ListPeriods(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period FROM plans
		GROUP BY period
		ORDER BY MAX(updated_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func encodeMonthMap(m plan.MonthMap) (string, error) {
	if m == nil {
		m = plan.MonthMap{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode month map: %w", err)
	}
	return string(data), nil
}

func encodeActions(a []string) (string, error) {
	if a == nil {
		a = []string{}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode actions: %w", err)
	}
	return string(data), nil
}
