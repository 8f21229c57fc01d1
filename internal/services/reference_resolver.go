package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// DeactivatedUserSuffix is appended to display names of archived owners
const DeactivatedUserSuffix = "(Deactivated User)"

// ReferenceResolver maps owner names, owner ids and team ids to CRM records.
// Owners and teams are fetched on first use and kept until Invalidate.
type ReferenceResolver struct {
	client CRMClient
	cache  *CacheService
	ttl    time.Duration
	logger *logger.Logger

	mutex        sync.Mutex
	loaded       bool
	ownersByName map[string]*models.Owner
	ownersByID   map[string]*models.Owner
	teamsByID    map[string]*models.Team
}

// NewReferenceResolver creates a new reference resolver
func NewReferenceResolver(client CRMClient, cache *CacheService, cfg *config.Config, logger *logger.Logger) *ReferenceResolver {
	return &ReferenceResolver{
		client: client,
		cache:  cache,
		ttl:    time.Duration(cfg.Cache.ReferenceTTL) * time.Second,
		logger: logger,
	}
}

// OwnerByName resolves "first last" case-insensitively; unknown names yield nil
func (r *ReferenceResolver) OwnerByName(ctx context.Context, name string) (*models.Owner, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.ownersByName[strings.ToLower(strings.TrimSpace(name))], nil
}

// OwnerByID resolves an owner id or user id; unknown ids yield nil
func (r *ReferenceResolver) OwnerByID(ctx context.Context, id string) (*models.Owner, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.ownersByID[strings.TrimSpace(id)], nil
}

// OwnerDisplayName renders "First Last", suffixed for archived owners
func (r *ReferenceResolver) OwnerDisplayName(ctx context.Context, id string) (string, bool, error) {
	owner, err := r.OwnerByID(ctx, id)
	if err != nil || owner == nil {
		return "", false, err
	}
	return DisplayName(owner), true, nil
}

// TeamLabel returns the team name for a team id
func (r *ReferenceResolver) TeamLabel(ctx context.Context, id string) (string, bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return "", false, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	team, ok := r.teamsByID[strings.TrimSpace(id)]
	if !ok {
		return "", false, nil
	}
	return team.Name, true, nil
}

// Invalidate drops the cached owners and teams; the next lookup reloads them
func (r *ReferenceResolver) Invalidate(ctx context.Context) {
	r.mutex.Lock()
	r.loaded = false
	r.ownersByName = nil
	r.ownersByID = nil
	r.teamsByID = nil
	r.mutex.Unlock()

	if err := r.cache.Delete(ctx, r.cache.BuildOwnersKey(), r.cache.BuildTeamsKey()); err != nil {
		r.logger.WithError(err).Warn("Failed to drop cached owners and teams")
	}
}

// DisplayName formats an owner for display
func DisplayName(owner *models.Owner) string {
	name := owner.FullName()
	if owner.Archived {
		return fmt.Sprintf("%s %s", name, DeactivatedUserSuffix)
	}
	return name
}

func (r *ReferenceResolver) ensureLoaded(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.loaded {
		return nil
	}

	owners, err := r.loadOwners(ctx)
	if err != nil {
		return err
	}
	teams, err := r.loadTeams(ctx)
	if err != nil {
		return err
	}

	r.ownersByName = make(map[string]*models.Owner, len(owners))
	r.ownersByID = make(map[string]*models.Owner, 2*len(owners))
	for _, owner := range owners {
		r.ownersByID[owner.ID] = owner
		if owner.UserID != 0 {
			userID := strconv.FormatInt(owner.UserID, 10)
			if _, taken := r.ownersByID[userID]; !taken {
				r.ownersByID[userID] = owner
			}
		}

		// Active owners win name collisions with archived ones
		name := strings.ToLower(owner.FullName())
		if existing, ok := r.ownersByName[name]; !ok || (existing.Archived && !owner.Archived) {
			r.ownersByName[name] = owner
		}
	}

	r.teamsByID = make(map[string]*models.Team, len(teams))
	for _, team := range teams {
		r.teamsByID[team.ID] = team
	}

	r.loaded = true
	r.logger.WithField("owners", len(owners)).
		WithField("teams", len(teams)).
		Info("Loaded owner and team references")

	return nil
}

func (r *ReferenceResolver) loadOwners(ctx context.Context) ([]*models.Owner, error) {
	var owners []*models.Owner
	if err := r.cache.Get(ctx, r.cache.BuildOwnersKey(), &owners); err == nil {
		return owners, nil
	}

	owners, err := r.client.GetOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load owners: %w", err)
	}
	if err := r.cache.Set(ctx, r.cache.BuildOwnersKey(), owners, r.ttl); err != nil {
		r.logger.WithError(err).Warn("Owner cache write failed")
	}
	return owners, nil
}

func (r *ReferenceResolver) loadTeams(ctx context.Context) ([]*models.Team, error) {
	var teams []*models.Team
	if err := r.cache.Get(ctx, r.cache.BuildTeamsKey(), &teams); err == nil {
		return teams, nil
	}

	teams, err := r.client.GetTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load teams: %w", err)
	}
	if err := r.cache.Set(ctx, r.cache.BuildTeamsKey(), teams, r.ttl); err != nil {
		r.logger.WithError(err).Warn("Team cache write failed")
	}
	return teams, nil
}
