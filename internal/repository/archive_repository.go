package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/mtec-dev/schedule_bot/internal/repository/base"
)

// ArchiveRepository архив расписаний: последняя известная таблица
// и её дайджест на каждую пару (сущность, дата)
type ArchiveRepository struct {
	*base.Repository
}

func NewArchiveRepository(pool *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{Repository: base.NewRepository(pool)}
}

// Upsert идемпотентно перезаписывает архивную запись и возвращает
// предыдущий дайджест ("" если записи не было). Смена дайджеста и есть
// признак изменившегося расписания. Последняя запись побеждает —
// содержимое идемпотентно выводится из источника заново.
func (r *ArchiveRepository) Upsert(ctx context.Context, kind model.EntityKind, entityKey string, date model.Date, table model.Table, digest string) (string, error) {
	if table == nil {
		table = model.Table{}
	}

	payload, err := json.Marshal(table)
	if err != nil {
		return "", storageErr("marshal schedule table", err)
	}

	query := `
		WITH old AS (
			SELECT digest FROM schedule_archive
			WHERE kind = $1 AND entity_key = $2 AND date = $3
		)
		INSERT INTO schedule_archive (kind, entity_key, date, schedule, digest)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, entity_key, date)
		DO UPDATE SET schedule = EXCLUDED.schedule, digest = EXCLUDED.digest, updated_at = now()
		RETURNING (SELECT digest FROM old)
	`

	var prev *string
	err = r.QueryRow(ctx, query, kind, entityKey, date.Time(), payload, digest).Scan(&prev)
	if err != nil {
		return "", storageErr("upsert schedule archive", err)
	}

	if prev == nil {
		return "", nil
	}
	return *prev, nil
}

// Get возвращает архивную запись или nil, если её ещё нет
func (r *ArchiveRepository) Get(ctx context.Context, kind model.EntityKind, entityKey string, date model.Date) (*model.ArchiveRecord, error) {
	query := `
		SELECT schedule, digest, created_at
		FROM schedule_archive
		WHERE kind = $1 AND entity_key = $2 AND date = $3
	`

	var (
		payload   []byte
		digest    string
		createdAt time.Time
	)
	err := r.QueryRow(ctx, query, kind, entityKey, date.Time()).Scan(&payload, &digest, &createdAt)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, storageErr("get schedule archive", err)
	}

	record := &model.ArchiveRecord{
		Kind:      kind,
		EntityKey: entityKey,
		Date:      date,
		Digest:    digest,
		CreatedAt: createdAt,
	}
	if err := json.Unmarshal(payload, &record.Table); err != nil {
		return nil, storageErr("unmarshal schedule table", err)
	}
	if record.Table == nil {
		record.Table = model.Table{}
	}

	return record, nil
}

// PurgeBefore удаляет записи со строго более ранней датой.
// Используется только ночной уборкой: прошедшие дни никому не рассылаются.
func (r *ArchiveRepository) PurgeBefore(ctx context.Context, date model.Date) (int64, error) {
	count, err := r.ExecAffected(ctx, `DELETE FROM schedule_archive WHERE date < $1`, date.Time())
	if err != nil {
		return 0, storageErr("purge schedule archive", err)
	}
	return count, nil
}
