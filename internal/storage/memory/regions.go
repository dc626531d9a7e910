package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"geotrek-offline/internal/storage"
)

// RegionStore is an in-process region catalog.
type RegionStore struct {
	mu      sync.Mutex
	nextID  int64
	regions map[int64]storage.Region
	now     func() time.Time
}

var _ storage.RegionStore = (*RegionStore)(nil)

// NewRegionStore returns an empty catalog.
func NewRegionStore() *RegionStore {
	return &RegionStore{
		regions: make(map[int64]storage.Region),
		now:     time.Now,
	}
}

// AddRegion assigns the next id under the store lock.
func (s *RegionStore) AddRegion(ctx context.Context, region storage.Region) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	region.Name = strings.TrimSpace(region.Name)
	if region.Name == "" {
		return 0, fmt.Errorf("region name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	region.ID = s.nextID
	if region.CreatedAt.IsZero() {
		region.CreatedAt = s.now()
	}
	s.regions[region.ID] = region
	return region.ID, nil
}

// GetRegion returns one catalog entry.
func (s *RegionStore) GetRegion(ctx context.Context, id int64) (storage.Region, error) {
	if err := ctx.Err(); err != nil {
		return storage.Region{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	region, ok := s.regions[id]
	if !ok {
		return storage.Region{}, storage.ErrNotFound
	}
	return region, nil
}

// ListRegions returns every entry, newest first.
func (s *RegionStore) ListRegions(ctx context.Context) ([]storage.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	regions := make([]storage.Region, 0, len(s.regions))
	for _, r := range s.regions {
		regions = append(regions, r)
	}
	s.mu.Unlock()

	sort.Slice(regions, func(i, j int) bool {
		if !regions[i].CreatedAt.Equal(regions[j].CreatedAt) {
			return regions[i].CreatedAt.After(regions[j].CreatedAt)
		}
		return regions[i].ID > regions[j].ID
	})
	return regions, nil
}

// DeleteRegion removes the catalog entry.
func (s *RegionStore) DeleteRegion(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.regions, id)
	return nil
}
