package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/types"
)

type accountFixture struct {
	users   *mockUserStore
	wms     *mockWatermarks
	index   *mockIndex
	queue   *mockQueue
	ledger  *mockLedger
	evicter *mockEvicter
	svc     *AccountService
}

func newAccountFixture(users ...*models.UserRecord) *accountFixture {
	f := &accountFixture{
		users:   newMockUserStore(users...),
		wms:     newMockWatermarks(),
		index:   newMockIndex(),
		queue:   &mockQueue{},
		ledger:  &mockLedger{},
		evicter: &mockEvicter{},
	}
	f.svc = NewAccountService(f.users, f.wms, f.index, f.queue, mockCipher{}, f.ledger, f.evicter,
		AccountConfig{OnboardRounds: 15, ReindexRounds: 2})
	return f
}

func TestAccountService_Onboard(t *testing.T) {
	f := newAccountFixture()

	user, created, err := f.svc.Onboard(context.Background(), OnboardRequest{
		UserID:            testUserID,
		ScreenName:        "alice",
		AccessToken:       "token",
		AccessTokenSecret: "secret",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "sealed:token", user.EncryptedToken)
	assert.Equal(t, "sealed:secret", f.users.user(testUserID).EncryptedTokenSecret)
	assert.Equal(t, []string{testUserID}, f.index.created)
	assert.Equal(t, []models.Job{{UserID: testUserID, Amount: 15}}, f.queue.jobs)
}

func TestAccountService_OnboardExistingIsNoop(t *testing.T) {
	f := newAccountFixture(&models.UserRecord{ID: testUserID, ScreenName: "alice", IndexedEntries: 9})

	user, created, err := f.svc.Onboard(context.Background(), OnboardRequest{
		UserID:            testUserID,
		AccessToken:       "t",
		AccessTokenSecret: "s",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 9, user.IndexedEntries)
	assert.Empty(t, f.index.created)
	assert.Empty(t, f.queue.jobs)
}

func TestAccountService_OnboardFailureCanBeRetried(t *testing.T) {
	tests := []struct {
		name    string
		breakFn func(f *accountFixture)
		heal    func(f *accountFixture)
	}{
		{
			name:    "index creation fails",
			breakFn: func(f *accountFixture) { f.index.createErr = apperrors.NewIndexError("create index", errors.New("timeout")) },
			heal:    func(f *accountFixture) { f.index.createErr = nil },
		},
		{
			name:    "enqueue fails",
			breakFn: func(f *accountFixture) { f.queue.err = apperrors.NewQueueError("send", errors.New("throttled")) },
			heal:    func(f *accountFixture) { f.queue.err = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAccountFixture()
			req := OnboardRequest{UserID: testUserID, AccessToken: "t", AccessTokenSecret: "s"}
			ctx := context.Background()

			tt.breakFn(f)
			_, created, err := f.svc.Onboard(ctx, req)
			require.Error(t, err)
			assert.False(t, created)
			assert.NotContains(t, f.users.users, testUserID, "a failed onboard must not leave a record behind")

			tt.heal(f)
			_, created, err = f.svc.Onboard(ctx, req)
			require.NoError(t, err)
			assert.True(t, created)
			assert.Contains(t, f.index.created, testUserID)
			assert.Equal(t, []models.Job{{UserID: testUserID, Amount: 15}}, f.queue.jobs)
		})
	}
}

func TestAccountService_OnboardValidation(t *testing.T) {
	f := newAccountFixture()

	_, _, err := f.svc.Onboard(context.Background(), OnboardRequest{UserID: testUserID})
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.GetHTTPStatusCode(err))
}

func TestAccountService_Status(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	f := newAccountFixture(&models.UserRecord{ID: testUserID, Lock: true, LockExpiresAt: &expires})
	f.ledger.outcomes = []models.RunOutcome{
		{RunID: "a", UserID: testUserID, State: types.RunDone},
		{RunID: "b", UserID: "other", State: types.RunDone},
		{RunID: "c", UserID: testUserID, State: types.RunFailed},
	}

	status, err := f.svc.Status(context.Background(), testUserID)
	require.NoError(t, err)
	assert.True(t, status.Indexing)
	require.Len(t, status.RecentRuns, 2)
	assert.Equal(t, "c", status.RecentRuns[0].RunID)
}

func TestAccountService_RequestIndex(t *testing.T) {
	f := newAccountFixture(&models.UserRecord{ID: testUserID})
	ctx := context.Background()

	rounds, err := f.svc.RequestIndex(ctx, testUserID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, rounds)
	_, err = f.svc.RequestIndex(ctx, testUserID, 7)
	require.NoError(t, err)
	assert.Equal(t, []models.Job{
		{UserID: testUserID, Amount: 2},
		{UserID: testUserID, Amount: 7},
	}, f.queue.jobs)

	_, err = f.svc.RequestIndex(ctx, "twitter|404", 1)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAccountService_Delete(t *testing.T) {
	f := newAccountFixture(&models.UserRecord{ID: testUserID})
	f.wms.ids[testUserID] = []string{"1", "2"}

	require.NoError(t, f.svc.Delete(context.Background(), testUserID))

	assert.Empty(t, f.users.users)
	assert.Empty(t, f.wms.ids)
	assert.Equal(t, []string{testUserID}, f.index.deleted)
	assert.Equal(t, []string{testUserID}, f.evicter.forgotten)

	// deleting again tolerates the missing pieces
	assert.NoError(t, f.svc.Delete(context.Background(), testUserID))
}

func manyUsers(n int) []*models.UserRecord {
	users := make([]*models.UserRecord, n)
	for i := range users {
		users[i] = &models.UserRecord{ID: fmt.Sprintf("twitter|%04d", i)}
	}
	return users
}

func TestAccountService_ReindexAllPagesThroughUsers(t *testing.T) {
	f := newAccountFixture(manyUsers(250)...)

	n, err := f.svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	require.Len(t, f.queue.jobs, 250)
	for _, j := range f.queue.jobs {
		assert.Equal(t, 2, j.Amount)
	}
}

func TestAccountService_ReindexAllStopsOnQueueError(t *testing.T) {
	f := newAccountFixture(manyUsers(3)...)
	f.queue.err = errors.New("queue down")

	n, err := f.svc.ReindexAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestAccountService_PurgeAll(t *testing.T) {
	f := newAccountFixture(manyUsers(120)...)

	n, err := f.svc.PurgeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, n)
	assert.Empty(t, f.users.users)
	assert.Len(t, f.index.deleted, 120)
}

func TestAccountService_UnlockAndExport(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	f := newAccountFixture(&models.UserRecord{ID: testUserID, Lock: true, LockExpiresAt: &expires})
	f.index.scrollIDs = []string{"1", "2", "3"}
	ctx := context.Background()

	require.NoError(t, f.svc.Unlock(ctx, testUserID))
	assert.False(t, f.users.user(testUserID).Lock)

	ids, err := f.svc.ExportIDs(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	assert.True(t, apperrors.IsNotFound(f.svc.Unlock(ctx, "twitter|404")))
}
