package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// PropertyCache holds CRM property definitions per object type. Definitions are
// loaded once per process and only dropped by Invalidate.
type PropertyCache struct {
	client CRMClient
	cache  *CacheService
	ttl    time.Duration
	logger *logger.Logger

	mutex       sync.Mutex
	definitions map[string]map[string]*models.PropertyDefinition
}

// NewPropertyCache creates a new property cache
func NewPropertyCache(client CRMClient, cache *CacheService, cfg *config.Config, logger *logger.Logger) *PropertyCache {
	return &PropertyCache{
		client:      client,
		cache:       cache,
		ttl:         time.Duration(cfg.Cache.PropertyTTL) * time.Second,
		logger:      logger,
		definitions: make(map[string]map[string]*models.PropertyDefinition),
	}
}

// Definitions returns every property definition of an object type keyed by name
func (pc *PropertyCache) Definitions(ctx context.Context, objectType string) (map[string]*models.PropertyDefinition, error) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	if defs, ok := pc.definitions[objectType]; ok {
		return defs, nil
	}

	list, err := pc.load(ctx, objectType)
	if err != nil {
		return nil, err
	}

	defs := make(map[string]*models.PropertyDefinition, len(list))
	for _, def := range list {
		def.BuildOptionsMapping()
		defs[def.Name] = def
	}
	pc.definitions[objectType] = defs

	pc.logger.WithField("object_type", objectType).
		WithField("properties", len(defs)).
		Debug("Loaded property definitions")

	return defs, nil
}

// Definition returns one property definition; ok is false when the property is unknown
func (pc *PropertyCache) Definition(ctx context.Context, objectType, name string) (*models.PropertyDefinition, bool, error) {
	defs, err := pc.Definitions(ctx, objectType)
	if err != nil {
		return nil, false, err
	}
	def, ok := defs[name]
	return def, ok, nil
}

// Invalidate drops every cached definition, including the Redis copies
func (pc *PropertyCache) Invalidate(ctx context.Context) {
	pc.mutex.Lock()
	objectTypes := make([]string, 0, len(pc.definitions))
	for objectType := range pc.definitions {
		objectTypes = append(objectTypes, objectType)
	}
	pc.definitions = make(map[string]map[string]*models.PropertyDefinition)
	pc.mutex.Unlock()

	keys := make([]string, 0, len(objectTypes))
	for _, objectType := range objectTypes {
		keys = append(keys, pc.cache.BuildPropertiesKey(objectType))
	}
	if err := pc.cache.Delete(ctx, keys...); err != nil {
		pc.logger.WithError(err).Warn("Failed to drop cached property definitions")
	}
}

func (pc *PropertyCache) load(ctx context.Context, objectType string) ([]*models.PropertyDefinition, error) {
	key := pc.cache.BuildPropertiesKey(objectType)

	var cached []*models.PropertyDefinition
	err := pc.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if err != ErrCacheMiss {
		pc.logger.WithError(err).WithField("object_type", objectType).Warn("Property cache read failed")
	}

	list, err := pc.client.GetProperties(ctx, objectType)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s properties: %w", objectType, err)
	}

	if err := pc.cache.Set(ctx, key, list, pc.ttl); err != nil {
		pc.logger.WithError(err).WithField("object_type", objectType).Warn("Property cache write failed")
	}

	return list, nil
}
