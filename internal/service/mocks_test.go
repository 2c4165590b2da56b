package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/faveindex/internal/adapter"
	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/models"
)

// mockUserStore mirrors the lease semantics of the Postgres repository
type mockUserStore struct {
	mu       sync.Mutex
	users    map[string]*models.UserRecord
	owners   map[string]string
	updates  int
	renewals int
	releases int
	getErr   error
}

func newMockUserStore(users ...*models.UserRecord) *mockUserStore {
	m := &mockUserStore{users: map[string]*models.UserRecord{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserStore) Create(_ context.Context, user *models.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return apperrors.NewConflictError("user already exists")
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserStore) Get(_ context.Context, id string) (*models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", id)
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserStore) Update(_ context.Context, id string, update models.UserUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperrors.NewNotFoundError("user", id)
	}
	m.updates++
	if update.ScreenName != nil {
		u.ScreenName = *update.ScreenName
	}
	if update.IndexedEntries != nil {
		u.IndexedEntries = *update.IndexedEntries
	}
	if update.LastIndexTime != nil {
		t := *update.LastIndexTime
		u.LastIndexTime = &t
	}
	return nil
}

func (m *mockUserStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *mockUserStore) List(_ context.Context, afterID string, limit int) ([]*models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*models.UserRecord, 0, len(ids))
	for _, id := range ids {
		cp := *m.users[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockUserStore) AcquireLock(_ context.Context, id, owner string, now time.Time, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return apperrors.NewNotFoundError("user", id)
	}
	if u.IsLocked(now) {
		return apperrors.ErrLockHeld
	}
	m.lockTo(u, owner, now.Add(lease))
	return nil
}

func (m *mockUserStore) RenewLock(_ context.Context, id, owner string, now time.Time, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewals++
	u, ok := m.users[id]
	if !ok || !u.Lock || m.owners[id] != owner {
		return apperrors.ErrLockLost
	}
	exp := now.Add(lease)
	u.LockExpiresAt = &exp
	return nil
}

func (m *mockUserStore) ReleaseLock(ctx context.Context, id, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	if u, ok := m.users[id]; ok && m.owners[id] == owner {
		m.unlock(u)
	}
	return nil
}

func (m *mockUserStore) ForceReleaseLock(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		m.unlock(u)
	}
	return nil
}

// steal hands the lock to owner the way another worker would after the
// current lease expired
func (m *mockUserStore) steal(id, owner string, expires time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockTo(m.users[id], owner, expires)
}

func (m *mockUserStore) lockTo(u *models.UserRecord, owner string, expires time.Time) {
	if m.owners == nil {
		m.owners = map[string]string{}
	}
	u.Lock = true
	u.LockExpiresAt = &expires
	m.owners[u.ID] = owner
}

func (m *mockUserStore) unlock(u *models.UserRecord) {
	u.Lock = false
	u.LockExpiresAt = nil
	delete(m.owners, u.ID)
}

func (m *mockUserStore) user(id string) models.UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

type mockWatermarks struct {
	mu      sync.Mutex
	ids     map[string][]string
	saves   int
	loadErr error
}

func newMockWatermarks() *mockWatermarks {
	return &mockWatermarks{ids: map[string][]string{}}
}

func (m *mockWatermarks) Load(_ context.Context, userID string) (*models.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return models.NewWatermark(userID, m.ids[userID]), nil
}

func (m *mockWatermarks) Save(_ context.Context, wm *models.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.ids[wm.UserID] = wm.IDs()
	return nil
}

func (m *mockWatermarks) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, userID)
	return nil
}

type mockIndex struct {
	mu         sync.Mutex
	created    []string
	deleted    []string
	docs       map[string]map[string]*models.IndexedDocument
	batchSizes []int
	bulkErrs   []error // consumed one per bulk call
	hits       *models.IndexHits
	queries    int
	scrollIDs  []string
	createErr  error
}

func newMockIndex() *mockIndex {
	return &mockIndex{docs: map[string]map[string]*models.IndexedDocument{}}
}

func (m *mockIndex) CreateIndex(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, userID)
	return nil
}

func (m *mockIndex) DeleteIndex(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, userID)
	delete(m.docs, userID)
	return nil
}

func (m *mockIndex) BulkUpsert(_ context.Context, userID string, docs []*models.IndexedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchSizes = append(m.batchSizes, len(docs))
	if len(m.bulkErrs) > 0 {
		err := m.bulkErrs[0]
		m.bulkErrs = m.bulkErrs[1:]
		if err != nil {
			return err
		}
	}
	if m.docs[userID] == nil {
		m.docs[userID] = map[string]*models.IndexedDocument{}
	}
	for _, d := range docs {
		m.docs[userID][d.ID] = d
	}
	return nil
}

func (m *mockIndex) Query(_ context.Context, _ string, _ string, _ []string, _ int) (*models.IndexHits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.hits == nil {
		return &models.IndexHits{}, nil
	}
	return m.hits, nil
}

func (m *mockIndex) ScrollAllIDs(_ context.Context, _ string) ([]string, error) {
	return m.scrollIDs, nil
}

func (m *mockIndex) docCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[userID])
}

// mockSource serves a fixed favorites feed, newest first, paged by cursor
type mockSource struct {
	mu           sync.Mutex
	feed         []models.Item
	pageSize     int
	fetchErr     error
	fetchCalls   int
	hydrateCalls [][]string
	hydrateErr   error
	hydrateLimit int // items returned before hydrateErr, -1 for all
	lookupCalls  [][]string
	missing      map[string]bool
}

func (m *mockSource) FetchFavoritesPage(_ context.Context, cursor string) (*adapter.FavoritesPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	start := 0
	if cursor != "" {
		for i, it := range m.feed {
			if it.IDStr == cursor {
				start = i
				break
			}
		}
	}
	size := m.pageSize
	if size <= 0 {
		size = 200
	}
	end := start + size
	if end > len(m.feed) {
		end = len(m.feed)
	}
	page := append([]models.Item(nil), m.feed[start:end]...)
	next := ""
	if len(page) > 0 {
		next = page[len(page)-1].IDStr
	}
	return &adapter.FavoritesPage{Items: page, NextCursor: next}, nil
}

func (m *mockSource) byID(ids []string) []models.Item {
	index := map[string]models.Item{}
	for _, it := range m.feed {
		index[it.IDStr] = it
	}
	var out []models.Item
	for _, id := range ids {
		if m.missing[id] {
			continue
		}
		if it, ok := index[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func (m *mockSource) Hydrate(_ context.Context, ids []string) ([]models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hydrateCalls = append(m.hydrateCalls, append([]string(nil), ids...))
	items := m.byID(ids)
	if m.hydrateErr != nil {
		if m.hydrateLimit >= 0 && m.hydrateLimit < len(items) {
			items = items[:m.hydrateLimit]
		}
		return items, m.hydrateErr
	}
	return items, nil
}

func (m *mockSource) Lookup(_ context.Context, ids []string) ([]models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls = append(m.lookupCalls, append([]string(nil), ids...))
	return m.byID(ids), nil
}

type mockSources struct {
	source *mockSource
	err    error
}

func (m *mockSources) ForUser(*models.UserRecord) (adapter.ContentSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.source, nil
}

type mockQueue struct {
	mu   sync.Mutex
	jobs []models.Job
	err  error
}

func (m *mockQueue) Enqueue(_ context.Context, j models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, j)
	return nil
}

type mockCipher struct{}

func (mockCipher) Encrypt(plaintext string) (string, error) { return "sealed:" + plaintext, nil }

type mockLedger struct {
	mu       sync.Mutex
	outcomes []models.RunOutcome
}

func (m *mockLedger) Record(_ context.Context, o *models.RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, *o)
	return nil
}

func (m *mockLedger) Recent(_ context.Context, userID string, limit int) ([]models.RunOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RunOutcome
	for i := len(m.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		if m.outcomes[i].UserID == userID {
			out = append(out, m.outcomes[i])
		}
	}
	return out, nil
}

type mockEvicter struct{ forgotten []string }

func (m *mockEvicter) Forget(userID string) { m.forgotten = append(m.forgotten, userID) }

// makeFeed builds n items with descending numeric ids starting at top,
// one minute apart, newest first
func makeFeed(top, n int) []models.Item {
	base := time.Date(2020, time.March, 4, 12, 0, 0, 0, time.UTC)
	items := make([]models.Item, n)
	for i := 0; i < n; i++ {
		id := top - i
		items[i] = models.Item{
			IDStr:     strconv.Itoa(id),
			CreatedAt: base.Add(time.Duration(id) * time.Minute).Format(models.CreatedAtLayout),
			Text:      fmt.Sprintf("favorite number %d", id),
			User:      models.ItemUser{IDStr: "1", Name: "Author", ScreenName: "author"},
		}
	}
	return items
}
