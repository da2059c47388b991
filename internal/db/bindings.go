// ticket_bindings 테이블 기반 바인딩 저장소
// 다중 인스턴스 배포에서 at-most-one-open-ticket 불변식을 지키기 위한 백엔드
//
// compare-and-set 구현:
//   - expected가 none이면 INSERT ... ON CONFLICT DO NOTHING
//   - 그 외에는 UPDATE ... WHERE lifecycle_state = expected
//   - RowsAffected로 승패 판정 (행 단위 원자성은 Postgres가 보장)

package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kube-rca/snow-bridge/internal/model"
)

// Postgres 구조체 정의, store.BindingStore 인터페이스 구현
type Postgres struct {
	Pool *pgxpool.Pool
}

// EnsureBindingSchema - ticket_bindings 테이블 및 인덱스 생성
func (db *Postgres) EnsureBindingSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS ticket_bindings (
			condition_key TEXT PRIMARY KEY,
			external_ticket_id TEXT NOT NULL DEFAULT '',
			ticket_number TEXT NOT NULL DEFAULT '',
			lifecycle_state TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			namespace TEXT NOT NULL DEFAULT '',
			labels JSONB NOT NULL DEFAULT '{}',
			last_observed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_transition TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_error TEXT NOT NULL DEFAULT '',
			frozen BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS ticket_bindings_state_idx ON ticket_bindings(lifecycle_state)`,
		`CREATE INDEX IF NOT EXISTS ticket_bindings_stuck_idx ON ticket_bindings(last_transition) WHERE lifecycle_state IN ('pending_create', 'pending_resolve')`,
	}

	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

const bindingColumns = `
	condition_key, external_ticket_id, ticket_number, lifecycle_state,
	severity, summary, description, namespace, labels,
	last_observed_at, last_transition, last_error, frozen,
	created_at, updated_at`

func (db *Postgres) Get(ctx context.Context, conditionKey string) (*model.TicketBinding, error) {
	query := `SELECT` + bindingColumns + `
		FROM ticket_bindings
		WHERE condition_key = $1`

	binding, err := scanBinding(db.Pool.QueryRow(ctx, query, conditionKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return binding, nil
}

func (db *Postgres) CompareAndSet(ctx context.Context, conditionKey string, expected model.LifecycleState, binding model.TicketBinding) (bool, error) {
	if expected == model.LifecycleNone {
		query := `
			INSERT INTO ticket_bindings (
				condition_key, external_ticket_id, ticket_number, lifecycle_state,
				severity, summary, description, namespace, labels,
				last_observed_at, last_transition, last_error, frozen,
				created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
			ON CONFLICT (condition_key) DO NOTHING
		`
		tag, err := db.Pool.Exec(ctx, query,
			conditionKey,
			binding.ExternalTicketID,
			binding.TicketNumber,
			string(binding.LifecycleState),
			binding.Severity,
			binding.Summary,
			binding.Description,
			binding.Namespace,
			binding.Labels,
			binding.LastObservedAt,
			binding.LastTransition,
			binding.LastError,
			binding.Frozen,
		)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}

	query := `
		UPDATE ticket_bindings SET
			external_ticket_id = $3,
			ticket_number = $4,
			lifecycle_state = $5,
			severity = $6,
			summary = $7,
			description = $8,
			namespace = $9,
			labels = $10,
			last_observed_at = $11,
			last_transition = $12,
			last_error = $13,
			frozen = $14,
			updated_at = NOW()
		WHERE condition_key = $1 AND lifecycle_state = $2
	`
	tag, err := db.Pool.Exec(ctx, query,
		conditionKey,
		string(expected),
		binding.ExternalTicketID,
		binding.TicketNumber,
		string(binding.LifecycleState),
		binding.Severity,
		binding.Summary,
		binding.Description,
		binding.Namespace,
		binding.Labels,
		binding.LastObservedAt,
		binding.LastTransition,
		binding.LastError,
		binding.Frozen,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (db *Postgres) ListStuck(ctx context.Context, before time.Time) ([]model.TicketBinding, error) {
	query := `SELECT` + bindingColumns + `
		FROM ticket_bindings
		WHERE lifecycle_state IN ('pending_create', 'pending_resolve')
		  AND NOT frozen
		  AND last_transition < $1
		ORDER BY last_transition ASC`

	return db.queryBindings(ctx, query, before)
}

func (db *Postgres) List(ctx context.Context) ([]model.TicketBinding, error) {
	query := `SELECT` + bindingColumns + `
		FROM ticket_bindings
		ORDER BY updated_at DESC`

	return db.queryBindings(ctx, query)
}

func (db *Postgres) queryBindings(ctx context.Context, query string, args ...any) ([]model.TicketBinding, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.TicketBinding
	for rows.Next() {
		binding, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *binding)
	}
	return list, rows.Err()
}

func scanBinding(row pgx.Row) (*model.TicketBinding, error) {
	var b model.TicketBinding
	var state string
	err := row.Scan(
		&b.ConditionKey,
		&b.ExternalTicketID,
		&b.TicketNumber,
		&state,
		&b.Severity,
		&b.Summary,
		&b.Description,
		&b.Namespace,
		&b.Labels,
		&b.LastObservedAt,
		&b.LastTransition,
		&b.LastError,
		&b.Frozen,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.LifecycleState = model.LifecycleState(state)
	return &b, nil
}
