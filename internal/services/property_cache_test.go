package services

import (
	"context"
	"errors"
	"testing"

	"crm-sync-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPropertyCache(client CRMClient) *PropertyCache {
	cfg := createTestConfig()
	return NewPropertyCache(client, NewCacheService(nil, cfg), cfg, createTestLogger())
}

func TestPropertyCache_LoadsOncePerObjectType(t *testing.T) {
	client := new(MockCRMClient)
	client.On("GetProperties", mock.Anything, models.ObjectCompanies).Return([]*models.PropertyDefinition{
		{Name: "industry", Type: models.PropertyTypeEnumeration, Options: []models.PropertyOption{{Value: "tech", Label: "Technology"}}},
		{Name: "name", Type: models.PropertyTypeString},
	}, nil).Once()
	cache := newTestPropertyCache(client)
	ctx := context.Background()

	defs, err := cache.Definitions(ctx, models.ObjectCompanies)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "Technology", defs["industry"].OptionsMapping["tech"])

	def, ok, err := cache.Definition(ctx, models.ObjectCompanies, "name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.PropertyTypeString, def.Type)

	_, ok, err = cache.Definition(ctx, models.ObjectCompanies, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	client.AssertNumberOfCalls(t, "GetProperties", 1)
}

func TestPropertyCache_Invalidate(t *testing.T) {
	client := new(MockCRMClient)
	client.On("GetProperties", mock.Anything, models.ObjectDeals).Return([]*models.PropertyDefinition{{Name: "amount"}}, nil)
	cache := newTestPropertyCache(client)
	ctx := context.Background()

	_, err := cache.Definitions(ctx, models.ObjectDeals)
	require.NoError(t, err)
	cache.Invalidate(ctx)
	_, err = cache.Definitions(ctx, models.ObjectDeals)
	require.NoError(t, err)

	client.AssertNumberOfCalls(t, "GetProperties", 2)
}

func TestPropertyCache_LoadError(t *testing.T) {
	client := new(MockCRMClient)
	client.On("GetProperties", mock.Anything, models.ObjectDeals).Return(nil, errors.New("boom"))
	cache := newTestPropertyCache(client)

	_, err := cache.Definitions(context.Background(), models.ObjectDeals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deals")
}

func TestCacheService_Disabled(t *testing.T) {
	cfg := createTestConfig()
	cache := NewCacheService(nil, cfg)
	ctx := context.Background()

	assert.False(t, cache.Enabled())
	assert.NoError(t, cache.Set(ctx, "k", "v", 0))

	var out string
	assert.Equal(t, ErrCacheMiss, cache.Get(ctx, "k", &out))
	assert.NoError(t, cache.Delete(ctx, "k"))
	assert.NoError(t, cache.DeletePattern(ctx, cache.BuildPattern()))
	assert.NoError(t, cache.Ping(ctx))

	assert.Equal(t, "test:properties:deals", cache.BuildPropertiesKey("deals"))
	assert.Equal(t, "test:owners", cache.BuildOwnersKey())
	assert.Equal(t, "test:teams", cache.BuildTeamsKey())
	assert.Equal(t, "test:*", cache.BuildPattern())
}
