package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/service"
)

type mockAccounts struct {
	onboardReq  service.OnboardRequest
	onboardNew  bool
	status      *service.AccountStatus
	indexRounds int
	deleted     []string
	reindexed   int
	purged      int
	err         error
	panicOn     string
}

func (m *mockAccounts) Onboard(_ context.Context, req service.OnboardRequest) (*models.UserRecord, bool, error) {
	m.onboardReq = req
	if m.err != nil {
		return nil, false, m.err
	}
	return &models.UserRecord{ID: req.UserID, ScreenName: req.ScreenName}, m.onboardNew, nil
}

func (m *mockAccounts) Status(_ context.Context, userID string) (*service.AccountStatus, error) {
	if m.panicOn == "status" {
		panic("boom")
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.status != nil {
		return m.status, nil
	}
	return &service.AccountStatus{User: &models.UserRecord{ID: userID}}, nil
}

func (m *mockAccounts) RequestIndex(_ context.Context, _ string, rounds int) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	if rounds < 1 {
		rounds = 2
	}
	m.indexRounds = rounds
	return rounds, nil
}

func (m *mockAccounts) Delete(_ context.Context, userID string) error {
	m.deleted = append(m.deleted, userID)
	return m.err
}

func (m *mockAccounts) ReindexAll(context.Context) (int, error) { return m.reindexed, m.err }

func (m *mockAccounts) PurgeAll(context.Context) (int, error) { return m.purged, m.err }

type mockSearch struct {
	userID string
	query  string
	offset int
	result *models.SearchResultSet
	err    error
}

func (m *mockSearch) Search(_ context.Context, userID, query string, offset int) (*models.SearchResultSet, error) {
	m.userID, m.query, m.offset = userID, query, offset
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &models.SearchResultSet{Results: []models.Item{}}, nil
}

func createTestServer(accounts *mockAccounts, search *mockSearch) *Server {
	return NewServer(&ServerConfig{
		Host:       "localhost",
		Port:       "0",
		RPS:        100,
		Burst:      100,
		AdminToken: "s3cret",
	}, accounts, search)
}

func doRequest(s *Server, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := createTestServer(&mockAccounts{}, &mockSearch{})

	w := doRequest(s, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequireUser(t *testing.T) {
	s := createTestServer(&mockAccounts{}, &mockSearch{})

	for _, path := range []string{"/api/users/me", "/api/search?q=x"} {
		w := doRequest(s, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, ErrCodeUnauthorized, decodeError(t, w).Error.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	accounts := &mockAccounts{reindexed: 3, purged: 4}
	s := createTestServer(accounts, &mockSearch{})

	tests := []struct {
		name   string
		auth   string
		path   string
		status int
		body   string
	}{
		{"missing token", "", "/api/admin/reindex", http.StatusUnauthorized, ""},
		{"wrong token", "nope", "/api/admin/reindex", http.StatusUnauthorized, ""},
		{"bare token", "s3cret", "/api/admin/reindex", http.StatusAccepted, `{"enqueued":3}`},
		{"bearer token", "Bearer s3cret", "/api/admin/purge", http.StatusOK, `{"deleted":4}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	s := NewServer(&ServerConfig{RPS: 100}, &mockAccounts{}, &mockSearch{})

	req := httptest.NewRequest("POST", "/api/admin/purge", nil)
	req.Header.Set("Authorization", "")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := NewServer(&ServerConfig{RPS: 1, Burst: 2}, &mockAccounts{}, &mockSearch{})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, doRequest(s, "GET", "/api/users/me", "u1", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// other callers have their own bucket
	assert.Equal(t, http.StatusOK, doRequest(s, "GET", "/api/users/me", "u2", nil).Code)
}

func TestRecovery(t *testing.T) {
	s := createTestServer(&mockAccounts{panicOn: "status"}, &mockSearch{})

	w := doRequest(s, "GET", "/api/users/me", "u1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, w).Error.Code)
}

func TestCompression(t *testing.T) {
	s := createTestServer(&mockAccounts{}, &mockSearch{})

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), "healthy")
}

func TestServiceErrorsMapped(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperrors.NewNotFoundError("user", "u1"), http.StatusNotFound, "NOT_FOUND"},
		{"lock held", apperrors.ErrLockHeld, http.StatusConflict, "INDEXING_IN_PROGRESS"},
		{"store failure hidden", apperrors.NewStoreError("get user", assert.AnError), http.StatusInternalServerError, ErrCodeInternalError},
		{"revoked source token", apperrors.NewUnauthorizedError("favorites/list: access token rejected"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"source rate limit", apperrors.NewRateLimitError(30), http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestServer(&mockAccounts{err: tt.err}, &mockSearch{})
			w := doRequest(s, "GET", "/api/users/me", "u1", nil)

			assert.Equal(t, apperrors.GetHTTPStatusCode(tt.err), w.Code)
			if tt.status < 500 {
				assert.Equal(t, tt.status, w.Code)
			}
			resp := decodeError(t, w)
			if w.Code >= 500 {
				assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
				assert.NotContains(t, resp.Error.Message, assert.AnError.Error())
			} else {
				assert.Equal(t, tt.code, resp.Error.Code)
			}
		})
	}
}

func TestRateLimitErrorSetsRetryAfter(t *testing.T) {
	s := createTestServer(&mockAccounts{err: apperrors.NewRateLimitError(42)}, &mockSearch{})
	w := doRequest(s, "GET", "/api/users/me", "u1", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	resp := decodeError(t, w)
	assert.EqualValues(t, 42, resp.Error.Details["retryAfter"])
}
