package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

func TestCacheRepositoryKey(t *testing.T) {
	assert.Equal(t, "cliniclink:evaluation_templates:id:tpl-1", NewCacheRepository(nil, "cliniclink", nil).Key("evaluation_templates:id:tpl-1"))
	assert.Equal(t, "evaluation_templates:*", NewCacheRepository(nil, "", nil).Key("evaluation_templates:*"))
}

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "cliniclink", nil)
	ctx := context.Background()

	var out map[string]string
	assert.ErrorIs(t, repo.Get(ctx, "k", &out), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(ctx, "k", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, repo.DeleteByPattern(ctx, "*"))
}
