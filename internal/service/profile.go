// Package service provides business logic for the application.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parlor/parlor/internal/metrics"
	"github.com/parlor/parlor/internal/model"
	"github.com/parlor/parlor/internal/usage"
)

// UserReader loads a user by ID.
type UserReader interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// ActivityCounter counts a user's chat activity.
type ActivityCounter interface {
	CountConversations(ctx context.Context, userID string) (int64, error)
	CountMessages(ctx context.Context, userID string) (int64, error)
}

// UsageReporter produces a usage report for a user.
type UsageReporter interface {
	Report(ctx context.Context, userID string, now time.Time) (usage.Report, error)
}

// ProfileCache stores rendered profile documents.
type ProfileCache interface {
	GetProfile(ctx context.Context, userID string) ([]byte, error)
	SetProfile(ctx context.Context, userID string, data []byte, ttl time.Duration) error
}

// ProfileUser is the public part of a user.
type ProfileUser struct {
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActivity *time.Time `json:"lastActivity"`
}

// ProfileUsage holds activity counts and the usage report.
type ProfileUsage struct {
	Conversations int64              `json:"conversations"`
	Messages      int64              `json:"messages"`
	Daily         []usage.DailyUsage `json:"daily"`
	ByModel       []usage.ModelUsage `json:"byModel"`
}

// Profile is the profile document returned to the user.
type Profile struct {
	User  ProfileUser  `json:"user"`
	Usage ProfileUsage `json:"usage"`
}

// ProfileService assembles user profiles.
type ProfileService struct {
	users    UserReader
	counter  ActivityCounter
	reporter UsageReporter
	metrics  metrics.Recorder
	now      func() time.Time

	cache    ProfileCache
	cacheTTL time.Duration
}

// NewProfileService creates a new ProfileService.
func NewProfileService(users UserReader, counter ActivityCounter, reporter UsageReporter, recorder metrics.Recorder) *ProfileService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &ProfileService{
		users:    users,
		counter:  counter,
		reporter: reporter,
		metrics:  recorder,
		now:      time.Now,
	}
}

// WithCache serves profiles from cache for up to ttl. A zero ttl or nil
// cache leaves caching off.
func (s *ProfileService) WithCache(cache ProfileCache, ttl time.Duration) *ProfileService {
	if cache != nil && ttl > 0 {
		s.cache = cache
		s.cacheTTL = ttl
	}
	return s
}

// GetProfile loads the user, counts and usage report concurrently.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	start := time.Now()
	profile, err := s.cachedProfile(ctx, userID)
	s.metrics.ObserveProfileDuration(time.Since(start))
	if err != nil {
		s.metrics.IncProfileRequest(metrics.StatusError)
		return nil, err
	}
	s.metrics.IncProfileRequest(metrics.StatusSuccess)
	return profile, nil
}

// cachedProfile consults the cache first. Cache failures fall through to the
// stores.
func (s *ProfileService) cachedProfile(ctx context.Context, userID string) (*Profile, error) {
	if s.cache == nil {
		return s.getProfile(ctx, userID)
	}

	if data, err := s.cache.GetProfile(ctx, userID); err == nil {
		var profile Profile
		if json.Unmarshal(data, &profile) == nil {
			return &profile, nil
		}
	}

	profile, err := s.getProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(profile); err == nil {
		_ = s.cache.SetProfile(ctx, userID, data, s.cacheTTL)
	}
	return profile, nil
}

func (s *ProfileService) getProfile(ctx context.Context, userID string) (*Profile, error) {
	var (
		user          *model.User
		conversations int64
		messages      int64
		report        usage.Report
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if user, err = s.users.GetUserByID(gctx, userID); err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if conversations, err = s.counter.CountConversations(gctx, userID); err != nil {
			return fmt.Errorf("count conversations: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if messages, err = s.counter.CountMessages(gctx, userID); err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if report, err = s.reporter.Report(gctx, userID, s.now()); err != nil {
			return fmt.Errorf("usage report: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Profile{
		User: ProfileUser{
			Email:        user.Email,
			Role:         user.Role,
			CreatedAt:    user.CreatedAt,
			LastActivity: user.LastActivity,
		},
		Usage: ProfileUsage{
			Conversations: conversations,
			Messages:      messages,
			Daily:         report.Daily,
			ByModel:       report.ByModel,
		},
	}, nil
}
