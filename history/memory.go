package history

import (
	"context"
	"sync"

	"github.com/partscout/partscout/models"
)

// MemoryStore is an in-process Store for tests and single-run invocations.
// Entries are append-only per listing key.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string][]models.PriceHistoryEntry
	thresholds map[string][]models.DealAlertThreshold
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string][]models.PriceHistoryEntry),
		thresholds: make(map[string][]models.DealAlertThreshold),
	}
}

func (s *MemoryStore) AppendEntry(_ context.Context, entry models.PriceHistoryEntry) error {
	s.mu.Lock()
	s.entries[entry.ListingKey] = append(s.entries[entry.ListingKey], entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LastEntry(_ context.Context, listingKey string) (*models.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[listingKey]
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[len(entries)-1]
	return &last, nil
}

func (s *MemoryStore) Entries(_ context.Context, listingKey string, limit int) ([]models.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[listingKey]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]models.PriceHistoryEntry, limit)
	copy(out, entries[len(entries)-limit:])
	return out, nil
}

func (s *MemoryStore) ActiveThresholds(_ context.Context, listingKey string) ([]models.DealAlertThreshold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []models.DealAlertThreshold
	for _, threshold := range s.thresholds[listingKey] {
		if threshold.Active {
			active = append(active, threshold)
		}
	}
	return active, nil
}

// SetThreshold registers or replaces a threshold for its listing key.
func (s *MemoryStore) SetThreshold(threshold models.DealAlertThreshold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.thresholds[threshold.ListingKey]
	for i, t := range existing {
		if t.ID == threshold.ID {
			existing[i] = threshold
			return
		}
	}
	s.thresholds[threshold.ListingKey] = append(existing, threshold)
}
