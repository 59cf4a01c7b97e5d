// Package standby provides primary/standby gating via a Redis lock, so only
// one listener instance consumes when several run for failover.
package standby

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Roles an instance can hold
const (
	RolePrimary = "PRIMARY"
	RoleStandby = "STANDBY"
)

// refreshScript extends the lock only while we still own it
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lock only while we still own it
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Config holds standby service configuration
type Config struct {
	// Enabled turns leader election on; when false the instance is always primary
	Enabled bool

	// InstanceID identifies this instance in the lock (defaults to hostname+uuid)
	InstanceID string

	// RedisAddr and RedisPassword configure the lock store
	RedisAddr     string
	RedisPassword string

	// LockKey is the Redis key used for election
	LockKey string

	// LockTTL is the lock lease duration
	LockTTL time.Duration

	// RefreshInterval is how often the lock is refreshed or re-attempted
	RefreshInterval time.Duration
}

// Callbacks are invoked on role transitions
type Callbacks struct {
	OnBecomePrimary func()
	OnBecomeStandby func()
}

// Status is a snapshot of the service state
type Status struct {
	Role           string `json:"role"`
	InstanceID     string `json:"instanceId"`
	StandbyEnabled bool   `json:"standbyEnabled"`
}

// Service runs the election loop
type Service struct {
	cfg       *Config
	callbacks *Callbacks
	client    *redis.Client

	mu      sync.Mutex
	role    string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewService creates a standby service
func NewService(cfg *Config, callbacks *Callbacks) *Service {
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Second
	}
	if callbacks == nil {
		callbacks = &Callbacks{}
	}

	return &Service{
		cfg:       cfg,
		callbacks: callbacks,
		role:      RoleStandby,
	}
}

// Start begins the election loop. When standby mode is disabled the instance
// is immediately primary and no Redis connection is made; the caller starts
// processing directly.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.mu.Lock()
		s.role = RolePrimary
		s.mu.Unlock()
		log.Info().Msg("Standby mode disabled, running as sole instance")
		return nil
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("standby: redis unreachable: %w", err)
	}

	ctx, loopCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = loopCancel
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runElection(ctx)

	log.Info().
		Str("instanceId", s.cfg.InstanceID).
		Str("lockKey", s.cfg.LockKey).
		Dur("ttl", s.cfg.LockTTL).
		Msg("Standby service started")

	return nil
}

// Stop ends the election loop, demotes if primary, and releases the lock
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	if err := releaseScript.Run(releaseCtx, s.client, []string{s.cfg.LockKey}, s.cfg.InstanceID).Err(); err != nil && err != redis.Nil {
		log.Warn().Err(err).Msg("Failed to release standby lock")
	}

	if err := s.client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close redis client")
	}

	log.Info().Msg("Standby service stopped")
}

// HealthCheck verifies the lock store is reachable
func (s *Service) HealthCheck(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// GetRole returns the current role
func (s *Service) GetRole() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// GetInstanceID returns this instance's election identity
func (s *Service) GetInstanceID() string {
	return s.cfg.InstanceID
}

// GetStatus returns a snapshot of the service state
func (s *Service) GetStatus() Status {
	return Status{
		Role:           s.GetRole(),
		InstanceID:     s.cfg.InstanceID,
		StandbyEnabled: s.cfg.Enabled,
	}
}

// runElection attempts or refreshes the lock on every tick
func (s *Service) runElection(ctx context.Context) {
	defer s.wg.Done()

	// Contest the lock immediately rather than waiting a full interval.
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.GetRole() == RolePrimary {
		ok, err := refreshScript.Run(opCtx, s.client,
			[]string{s.cfg.LockKey}, s.cfg.InstanceID, s.cfg.LockTTL.Milliseconds()).Int()
		if err != nil || ok == 0 {
			log.Warn().Err(err).Msg("Lost standby lock, demoting to standby")
			s.transition(RoleStandby)
		}
		return
	}

	acquired, err := s.client.SetNX(opCtx, s.cfg.LockKey, s.cfg.InstanceID, s.cfg.LockTTL).Result()
	if err != nil {
		log.Warn().Err(err).Msg("Standby lock attempt failed")
		return
	}
	if acquired {
		s.transition(RolePrimary)
	}
}

// transition switches roles and fires the matching callback
func (s *Service) transition(role string) {
	s.mu.Lock()
	if s.role == role {
		s.mu.Unlock()
		return
	}
	s.role = role
	s.mu.Unlock()

	log.Info().Str("role", role).Str("instanceId", s.cfg.InstanceID).Msg("Role changed")

	switch role {
	case RolePrimary:
		if s.callbacks.OnBecomePrimary != nil {
			s.callbacks.OnBecomePrimary()
		}
	case RoleStandby:
		if s.callbacks.OnBecomeStandby != nil {
			s.callbacks.OnBecomeStandby()
		}
	}
}
