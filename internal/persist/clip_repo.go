package persist

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/l1jgo/lapse/internal/data"
)

// ClipRepo stores authored clip definitions as YAML, keyed by folded name.
type ClipRepo struct {
	db *DB
}

func NewClipRepo(db *DB) *ClipRepo {
	return &ClipRepo{db: db}
}

// LoadAll returns every stored clip. Called at startup and merged over the
// YAML clip table.
func (r *ClipRepo) LoadAll(ctx context.Context) ([]data.ClipDef, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT name, definition FROM clips ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load clips: %w", err)
	}
	defer rows.Close()

	var defs []data.ClipDef
	for rows.Next() {
		var name, definition string
		if err := rows.Scan(&name, &definition); err != nil {
			return nil, fmt.Errorf("load clips: %w", err)
		}
		def, err := decodeClip(definition)
		if err != nil {
			return nil, fmt.Errorf("load clip %s: %w", name, err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load clips: %w", err)
	}
	return defs, nil
}

// Save upserts def. It reports false when the stored digest already
// matches and nothing was written.
func (r *ClipRepo) Save(ctx context.Context, def data.ClipDef) (bool, error) {
	definition, digest, err := encodeClip(def)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Pool.Exec(ctx,
		`INSERT INTO clips (name, definition, digest, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE
		    SET definition = EXCLUDED.definition, digest = EXCLUDED.digest, updated_at = now()
		  WHERE clips.digest <> EXCLUDED.digest`,
		data.FoldName(def.Name), definition, digest,
	)
	if err != nil {
		return false, fmt.Errorf("save clip %s: %w", def.Name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SaveAll upserts defs in one transaction and returns how many rows changed.
func (r *ClipRepo) SaveAll(ctx context.Context, defs []data.ClipDef) (int, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("save clips begin: %w", err)
	}
	defer tx.Rollback(ctx)

	changed := 0
	for _, def := range defs {
		definition, digest, err := encodeClip(def)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO clips (name, definition, digest, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (name) DO UPDATE
			    SET definition = EXCLUDED.definition, digest = EXCLUDED.digest, updated_at = now()
			  WHERE clips.digest <> EXCLUDED.digest`,
			data.FoldName(def.Name), definition, digest,
		)
		if err != nil {
			return 0, fmt.Errorf("save clip %s: %w", def.Name, err)
		}
		changed += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("save clips commit: %w", err)
	}
	if changed > 0 {
		r.db.log.Info("clips saved", zap.Int("changed", changed), zap.Int("total", len(defs)))
	}
	return changed, nil
}

func (r *ClipRepo) Delete(ctx context.Context, name string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM clips WHERE name = $1`, data.FoldName(name)); err != nil {
		return fmt.Errorf("delete clip %s: %w", name, err)
	}
	return nil
}

func encodeClip(def data.ClipDef) (string, string, error) {
	if err := def.Validate(); err != nil {
		return "", "", err
	}
	raw, err := yaml.Marshal(def)
	if err != nil {
		return "", "", fmt.Errorf("encode clip %s: %w", def.Name, err)
	}
	digest, err := data.Digest(def)
	if err != nil {
		return "", "", err
	}
	return string(raw), digest, nil
}

func decodeClip(definition string) (data.ClipDef, error) {
	return data.ParseClip([]byte(definition))
}
