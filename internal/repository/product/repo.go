package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JugalBoro/kloth.me/internal/db"
	"github.com/JugalBoro/kloth.me/internal/domain"
)

// KeyPrefix namespaces product documents in the store.
const KeyPrefix = "kloth:product:"

// store is the consumer interface for product documents (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONSetMulti(ctx context.Context, items []db.JSONSetItem) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo implements retrieval.ProductStore over a JSON document store.
type Repo struct {
	store store
}

// New creates a product repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// GetByID returns a single product record.
func (r *Repo) GetByID(ctx context.Context, id string) (domain.Product, error) {
	raw, err := r.store.JSONGet(ctx, key(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("json.get %s: %w: %w", key(id), domain.ErrProductStore, err)
	}

	var d dto
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.Product{}, fmt.Errorf("unmarshal product %s: %w", id, err)
	}
	return d.toDomain(), nil
}

// GetByIDs resolves a batch of product ids in one pipelined round trip.
// Missing or unparsable records are skipped, so the result may be shorter
// than the input.
func (r *Repo) GetByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}

	raws, err := r.store.JSONGetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("json.get batch: %w: %w", domain.ErrProductStore, err)
	}

	out := make([]domain.Product, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		var d dto
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		out = append(out, d.toDomain())
	}
	return out, nil
}

// Insert stores a single product record.
func (r *Repo) Insert(ctx context.Context, p domain.Product) error {
	data, err := json.Marshal(fromDomain(p))
	if err != nil {
		return fmt.Errorf("marshal product %s: %w", p.ProductID, err)
	}
	if err := r.store.JSONSet(ctx, key(p.ProductID), "$", data); err != nil {
		return fmt.Errorf("json.set %s: %w: %w", key(p.ProductID), domain.ErrProductStore, err)
	}
	return nil
}

// InsertMany stores a batch of product records in one pipelined round trip.
func (r *Repo) InsertMany(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	items := make([]db.JSONSetItem, 0, len(products))
	for _, p := range products {
		data, err := json.Marshal(fromDomain(p))
		if err != nil {
			return fmt.Errorf("marshal product %s: %w", p.ProductID, err)
		}
		items = append(items, db.JSONSetItem{Key: key(p.ProductID), Path: "$", Data: data})
	}
	if err := r.store.JSONSetMulti(ctx, items); err != nil {
		return fmt.Errorf("json.set batch: %w: %w", domain.ErrProductStore, err)
	}
	return nil
}

// All returns every product record in the store. Intended for offline
// tooling (benchmark generation), not the query path.
func (r *Repo) All(ctx context.Context) ([]domain.Product, error) {
	keys, err := r.store.Scan(ctx, KeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan products: %w: %w", domain.ErrProductStore, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, KeyPrefix))
	}
	return r.GetByIDs(ctx, ids)
}

// Delete removes a product record.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, key(id)); err != nil {
		return fmt.Errorf("del %s: %w: %w", key(id), domain.ErrProductStore, err)
	}
	return nil
}

// Count reports how many product records the store holds.
func (r *Repo) Count(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, KeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan products: %w: %w", domain.ErrProductStore, err)
	}
	return len(keys), nil
}

func key(id string) string {
	return KeyPrefix + id
}
