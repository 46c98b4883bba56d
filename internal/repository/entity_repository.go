package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtec-dev/schedule_bot/internal/model"
	"github.com/mtec-dev/schedule_bot/internal/repository/base"
)

// EntityRepository последняя известная номенклатура групп и преподавателей.
// Обновляется из источника при каждом удачном опросе и служит запасным
// списком, когда перечисление с сайта не получилось. Заменяет собой
// текстовые файлы со списками, переживая рестарты процесса.
type EntityRepository struct {
	*base.Repository
}

func NewEntityRepository(pool *pgxpool.Pool) *EntityRepository {
	return &EntityRepository{Repository: base.NewRepository(pool)}
}

// Replace атомарно заменяет номенклатуру указанного вида
func (r *EntityRepository) Replace(ctx context.Context, kind model.EntityKind, keys []string) error {
	err := pgx.BeginFunc(ctx, r.Pool(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM known_entities WHERE kind = $1`, kind); err != nil {
			return fmt.Errorf("clear known entities: %w", err)
		}
		for _, key := range keys {
			if _, err := tx.Exec(ctx,
				`INSERT INTO known_entities (kind, entity_key) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				kind, key); err != nil {
				return fmt.Errorf("insert known entity: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("replace known entities", err)
	}
	return nil
}

// List возвращает сохранённую номенклатуру указанного вида
func (r *EntityRepository) List(ctx context.Context, kind model.EntityKind) ([]string, error) {
	rows, err := r.Query(ctx, `SELECT entity_key FROM known_entities WHERE kind = $1 ORDER BY entity_key`, kind)
	if err != nil {
		return nil, storageErr("list known entities", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, storageErr("scan known entity", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate known entities", err)
	}

	return keys, nil
}
