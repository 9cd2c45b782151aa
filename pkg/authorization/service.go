package authorization

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/flowdeck/flowdeck/pkg/ability"
	"github.com/flowdeck/flowdeck/pkg/folders"
	"github.com/flowdeck/flowdeck/pkg/iam"
)

// Service wires the rule engine, the rule cache and the folder index
// together and is the one entry point request handlers use to obtain an
// ability.
type Service struct {
	stores  *iam.Stores
	folders *folders.Store
	cache   *RuleCache
	license LicenseProvider
	group   singleflight.Group
	logger  *logrus.Entry
}

// Options tune the service; zero values mean defaults.
type Options struct {
	License LicenseProvider
	Logger  *logrus.Entry
}

// NewService builds the authorization service and registers it as the cache
// invalidation hook of the stores.
func NewService(stores *iam.Stores, folderStore *folders.Store, cache *RuleCache, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Service{
		stores:  stores,
		folders: folderStore,
		cache:   cache,
		license: opts.License,
		logger:  logger.WithField("component", "authorization"),
	}
	stores.SetCacheInvalidator(s)
	return s
}

// GetAbilityForUser returns the evaluator for the user in the environment,
// computing and caching the rule set on a miss. Concurrent misses for the
// same key are collapsed into a single computation.
func (s *Service) GetAbilityForUser(userID, environmentID string) (*ability.Ability, error) {
	key := CacheKey(userID, environmentID)
	ruleSet := s.cache.Get(key)
	if ruleSet == nil {
		computed, err, _ := s.group.Do(key, func() (any, error) {
			env, err := s.stores.Environments.GetEnvironment(environmentID)
			if err != nil {
				return nil, err
			}
			rs, err := s.ComputeRulesForUser(userID, env)
			if err != nil {
				return nil, err
			}
			s.cache.Set(key, rs, rs.ExpiresAt)
			s.logger.WithFields(logrus.Fields{
				"user_id":        userID,
				"environment_id": environmentID,
				"rules":          len(rs.Rules),
			}).Debug("Computed rule set")
			return rs, nil
		})
		if err != nil {
			return nil, fmt.Errorf("computing rules for user %s in environment %s: %w", userID, environmentID, err)
		}
		ruleSet = computed.(*RuleSet)
	}

	tree := s.folders.TreeForEnvironment(environmentID)
	return ability.New(ruleSet.Rules, environmentID, tree), nil
}

// GetGlobalAbilityForUser returns the evaluator for resources that live
// outside any environment, such as the user directory. Unknown users and
// guest accounts get an empty ability.
func (s *Service) GetGlobalAbilityForUser(userID string) *ability.Ability {
	if _, err := s.stores.Users.GetUser(userID); err != nil || s.stores.Users.IsGuest(userID) {
		return ability.New(nil, "", nil)
	}
	return ability.New(selfServiceRules(userID), "", nil)
}

// InvalidateUserRules implements iam.CacheInvalidator.
func (s *Service) InvalidateUserRules(userID, environmentID string) {
	s.cache.Invalidate(userID, environmentID)
}

// InvalidateAllRules implements iam.CacheInvalidator.
func (s *Service) InvalidateAllRules() {
	s.cache.InvalidateAll()
}

// CacheStats exposes the cache counters for the admin surface.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}
