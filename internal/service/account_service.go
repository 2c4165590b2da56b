package service

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/models"
)

const listPageSize = 100

// TokenEncrypter seals access tokens before they are stored
type TokenEncrypter interface {
	Encrypt(plaintext string) (string, error)
}

// RunHistory returns recent run outcomes for a user
type RunHistory interface {
	Recent(ctx context.Context, userID string, limit int) ([]models.RunOutcome, error)
}

// ClientEvicter drops cached content-source clients for a user
type ClientEvicter interface {
	Forget(userID string)
}

// AccountConfig holds the round counts used when enqueuing jobs
type AccountConfig struct {
	OnboardRounds int
	ReindexRounds int
}

// AccountService manages user lifecycle around the indexing pipeline
type AccountService struct {
	users      UserStore
	watermarks WatermarkStore
	index      TextIndex
	queue      JobEnqueuer
	cipher     TokenEncrypter
	history    RunHistory
	evicter    ClientEvicter
	cfg        AccountConfig
	now        func() time.Time
}

// NewAccountService creates an account service. history and evicter may be nil.
func NewAccountService(
	users UserStore,
	watermarks WatermarkStore,
	index TextIndex,
	queue JobEnqueuer,
	cipher TokenEncrypter,
	history RunHistory,
	evicter ClientEvicter,
	cfg AccountConfig,
) *AccountService {
	if cfg.OnboardRounds < 1 {
		cfg.OnboardRounds = 15
	}
	if cfg.ReindexRounds < 1 {
		cfg.ReindexRounds = 2
	}
	return &AccountService{
		users:      users,
		watermarks: watermarks,
		index:      index,
		queue:      queue,
		cipher:     cipher,
		history:    history,
		evicter:    evicter,
		cfg:        cfg,
		now:        time.Now,
	}
}

// OnboardRequest carries the credentials of a new user
type OnboardRequest struct {
	UserID            string `json:"-"`
	ScreenName        string `json:"screenName"`
	AccessToken       string `json:"accessToken"`
	AccessTokenSecret string `json:"accessTokenSecret"`
}

// Validate checks the request fields
func (r *OnboardRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return apperrors.NewInvalidParameterError("userId", "is required")
	}
	if r.AccessToken == "" {
		return apperrors.NewInvalidParameterError("accessToken", "is required")
	}
	if r.AccessTokenSecret == "" {
		return apperrors.NewInvalidParameterError("accessTokenSecret", "is required")
	}
	return nil
}

// Onboard creates the user record, the user's index and the first deep
// indexing job. An already onboarded user is returned unchanged with
// created=false.
func (s *AccountService) Onboard(ctx context.Context, req OnboardRequest) (user *models.UserRecord, created bool, err error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.users.Get(ctx, req.UserID)
	if err == nil {
		return existing, false, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, false, err
	}

	token, err := s.cipher.Encrypt(req.AccessToken)
	if err != nil {
		return nil, false, apperrors.NewInternalError("failed to seal access token", err)
	}
	secret, err := s.cipher.Encrypt(req.AccessTokenSecret)
	if err != nil {
		return nil, false, apperrors.NewInternalError("failed to seal access token secret", err)
	}

	user = &models.UserRecord{
		ID:                   req.UserID,
		ScreenName:           req.ScreenName,
		EncryptedToken:       token,
		EncryptedTokenSecret: secret,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// a concurrent onboard won the insert
		if apperrors.Categorize(err).Category == apperrors.CategoryConflict {
			existing, getErr := s.users.Get(ctx, req.UserID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if err := s.index.CreateIndex(ctx, user.ID); err != nil {
		s.abandonOnboard(ctx, user.ID)
		return nil, false, err
	}
	if err := s.queue.Enqueue(ctx, models.Job{UserID: user.ID, Amount: s.cfg.OnboardRounds}); err != nil {
		s.abandonOnboard(ctx, user.ID)
		return nil, false, err
	}

	logging.FromContext(ctx).WithUser(user.ID).WithField("rounds", s.cfg.OnboardRounds).Info("user onboarded")
	return user, true, nil
}

// abandonOnboard removes the record of a half-finished onboard so a retry
// starts over. Index creation is idempotent, so the index is left in place.
func (s *AccountService) abandonOnboard(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.users.Delete(ctx, userID); err != nil {
		logging.FromContext(ctx).WithUser(userID).WithError(err).Error("failed to remove half-onboarded user")
	}
}

// AccountStatus is the user-facing view of a user's indexing state
type AccountStatus struct {
	User       *models.UserRecord  `json:"user"`
	Indexing   bool                `json:"indexing"`
	RecentRuns []models.RunOutcome `json:"recentRuns,omitempty"`
}

// Status returns the user's record, whether a run holds the lock, and the
// latest recorded runs
func (s *AccountService) Status(ctx context.Context, userID string) (*AccountStatus, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &AccountStatus{User: user, Indexing: user.IsLocked(s.now())}
	if s.history != nil {
		runs, err := s.history.Recent(ctx, userID, 5)
		if err != nil {
			logging.FromContext(ctx).WithUser(userID).WithError(err).Warn("failed to load run history")
		} else {
			status.RecentRuns = runs
		}
	}
	return status, nil
}

// RequestIndex enqueues an indexing job and returns the rounds requested.
// rounds < 1 uses the reindex default.
func (s *AccountService) RequestIndex(ctx context.Context, userID string, rounds int) (int, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		return 0, err
	}
	if rounds < 1 {
		rounds = s.cfg.ReindexRounds
	}
	if err := s.queue.Enqueue(ctx, models.Job{UserID: userID, Amount: rounds}); err != nil {
		return 0, err
	}
	return rounds, nil
}

// Delete removes the user's index, watermark and record. Pieces that are
// already gone are ignored.
func (s *AccountService) Delete(ctx context.Context, userID string) error {
	if err := s.index.DeleteIndex(ctx, userID); err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	if err := s.watermarks.Delete(ctx, userID); err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	if s.evicter != nil {
		s.evicter.Forget(userID)
	}

	logging.FromContext(ctx).WithUser(userID).Info("user deleted")
	return nil
}

// ReindexAll enqueues a reindex job for every user and returns the count
func (s *AccountService) ReindexAll(ctx context.Context) (int, error) {
	enqueued := 0
	err := s.eachUser(ctx, func(user *models.UserRecord) error {
		if err := s.queue.Enqueue(ctx, models.Job{UserID: user.ID, Amount: s.cfg.ReindexRounds}); err != nil {
			return err
		}
		enqueued++
		return nil
	})
	logging.FromContext(ctx).WithField("enqueued", enqueued).Info("reindex-all enqueued")
	return enqueued, err
}

// PurgeAll deletes every user and returns how many were deleted.
// It keeps going past individual failures and returns them joined.
func (s *AccountService) PurgeAll(ctx context.Context) (int, error) {
	deleted := 0
	var failures []error
	err := s.eachUser(ctx, func(user *models.UserRecord) error {
		if err := s.Delete(ctx, user.ID); err != nil {
			failures = append(failures, err)
			return nil
		}
		deleted++
		return nil
	})
	if err != nil {
		failures = append(failures, err)
	}
	logging.FromContext(ctx).WithField("deleted", deleted).Warn("purged all users")
	return deleted, errors.Join(failures...)
}

// ExportIDs returns every document id in the user's index
func (s *AccountService) ExportIDs(ctx context.Context, userID string) ([]string, error) {
	return s.index.ScrollAllIDs(ctx, userID)
}

// Unlock clears a stuck indexing lock
func (s *AccountService) Unlock(ctx context.Context, userID string) error {
	if _, err := s.users.Get(ctx, userID); err != nil {
		return err
	}
	if err := s.users.ForceReleaseLock(ctx, userID); err != nil {
		return err
	}
	logging.FromContext(ctx).WithUser(userID).Warn("indexing lock cleared by operator")
	return nil
}

// eachUser walks every user in id order
func (s *AccountService) eachUser(ctx context.Context, fn func(*models.UserRecord) error) error {
	after := ""
	for {
		page, err := s.users.List(ctx, after, listPageSize)
		if err != nil {
			return err
		}
		for _, user := range page {
			if err := fn(user); err != nil {
				return err
			}
		}
		if len(page) < listPageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}
