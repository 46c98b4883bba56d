package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/mtec-dev/schedule_bot/internal/repository/base"
)

// AnnouncedRepository журнал идемпотентности рассылки.
// Дата попадает сюда при старте рассылки (announced_at) и помечается
// завершённой после всех проходов (completed_at). Раздельные отметки
// позволяют при рестарте дослать даты, оборвавшиеся на полпути.
type AnnouncedRepository struct {
	*base.Repository
}

func NewAnnouncedRepository(pool *pgxpool.Pool) *AnnouncedRepository {
	return &AnnouncedRepository{Repository: base.NewRepository(pool)}
}

// Dates возвращает множество всех дат, по которым рассылка уже запускалась
func (r *AnnouncedRepository) Dates(ctx context.Context) (map[model.Date]struct{}, error) {
	rows, err := r.Query(ctx, `SELECT date FROM announced_dates`)
	if err != nil {
		return nil, storageErr("list announced dates", err)
	}
	defer rows.Close()

	dates := make(map[model.Date]struct{})
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, storageErr("scan announced date", err)
		}
		dates[model.DateOf(t)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate announced dates", err)
	}

	return dates, nil
}

// Mark отмечает даты как объявленные. Повторная отметка — no-op.
func (r *AnnouncedRepository) Mark(ctx context.Context, dates []model.Date) error {
	for _, d := range dates {
		_, err := r.ExecAffected(ctx,
			`INSERT INTO announced_dates (date) VALUES ($1) ON CONFLICT (date) DO NOTHING`,
			d.Time())
		if err != nil {
			return storageErr("mark announced date", err)
		}
	}
	return nil
}

// MarkCompleted фиксирует что все проходы рассылки по дате завершились
func (r *AnnouncedRepository) MarkCompleted(ctx context.Context, date model.Date) error {
	_, err := r.ExecAffected(ctx,
		`UPDATE announced_dates SET completed_at = now() WHERE date = $1`,
		date.Time())
	if err != nil {
		return storageErr("mark broadcast completed", err)
	}
	return nil
}

// Incomplete возвращает даты, по которым рассылка стартовала, но не
// завершилась (оборвана падением процесса). Прошедшие даты не считаются —
// дослать их уже бессмысленно.
func (r *AnnouncedRepository) Incomplete(ctx context.Context) ([]model.Date, error) {
	rows, err := r.Query(ctx,
		`SELECT date FROM announced_dates WHERE completed_at IS NULL AND date >= $1 ORDER BY date`,
		model.Today().Time())
	if err != nil {
		return nil, storageErr("list incomplete broadcasts", err)
	}
	defer rows.Close()

	var dates []model.Date
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, storageErr("scan incomplete broadcast date", err)
		}
		dates = append(dates, model.DateOf(t))
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate incomplete broadcasts", err)
	}

	return dates, nil
}

// PurgeBefore подчищает давно прошедшие даты из журнала
func (r *AnnouncedRepository) PurgeBefore(ctx context.Context, date model.Date) (int64, error) {
	count, err := r.ExecAffected(ctx, `DELETE FROM announced_dates WHERE date < $1`, date.Time())
	if err != nil {
		return 0, storageErr("purge announced dates", err)
	}
	return count, nil
}
