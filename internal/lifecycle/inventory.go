package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
)

// GenerationInfo describes one stored generation
type GenerationInfo struct {
	Name    string
	Current bool
	Entries int
	Bytes   int64
	Newest  time.Time
}

// Inventory lists every generation in storage with its size, oldest first
func (m *Manager) Inventory(ctx context.Context) ([]GenerationInfo, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	infos := make([]GenerationInfo, 0, len(names))
	for _, name := range names {
		store, err := m.storage.Lookup(ctx, name)
		if errors.Is(err, cachestore.ErrNotFound) {
			// deleted since Names
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("keys of %s: %w", name, err)
		}

		info := GenerationInfo{Name: name, Current: m.settings.Generations.Current(name), Entries: len(keys)}
		for _, key := range keys {
			entry, err := store.Match(ctx, key)
			if err != nil {
				continue
			}
			info.Bytes += int64(len(entry.Response.Body))
			if entry.StoredAt.After(info.Newest) {
				info.Newest = entry.StoredAt
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}
