package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

type cacheRepoStub struct {
	entries  map[string][]byte
	ttls     map[string]time.Duration
	patterns []string
	getErr   error
}

func newCacheRepoStub() *cacheRepoStub {
	return &cacheRepoStub{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (r *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	if r.getErr != nil {
		return r.getErr
	}
	raw, ok := r.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.entries[key] = raw
	r.ttls[key] = ttl
	return nil
}

func (r *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	r.patterns = append(r.patterns, pattern)
	return nil
}

func TestCacheServiceRoundTripRecordsMetrics(t *testing.T) {
	repo := newCacheRepoStub()
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	var out models.EvaluationTemplate
	hit, err := cache.Get(ctx, "evaluation_templates:id:tpl-1", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "evaluation_templates:id:tpl-1", surgeryTemplate(), 0))
	assert.Equal(t, time.Minute, repo.ttls["evaluation_templates:id:tpl-1"])

	hit, err = cache.Get(ctx, "evaluation_templates:id:tpl-1", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Surgery Final", out.Name)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)

	require.NoError(t, cache.Invalidate(ctx, "evaluation_templates:*"))
	assert.Equal(t, []string{"evaluation_templates:*"}, repo.patterns)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newCacheRepoStub()
	cache := NewCacheService(repo, nil, 0, nil, false)
	assert.False(t, cache.Enabled())

	require.NoError(t, cache.Set(context.Background(), "k", "v", 0))
	assert.Empty(t, repo.entries)

	var nilCache *CacheService
	hit, err := nilCache.Get(context.Background(), "k", new(string))
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheServiceGetErrorIsReported(t *testing.T) {
	repo := newCacheRepoStub()
	repo.getErr = errors.New("connection refused")
	cache := NewCacheService(repo, nil, time.Minute, zap.NewNop(), true)

	hit, err := cache.Get(context.Background(), "k", new(string))
	assert.Error(t, err)
	assert.False(t, hit)
}
