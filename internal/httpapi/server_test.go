package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensems/emspush/internal/agent"
	"github.com/expensems/emspush/internal/backend"
	"github.com/expensems/emspush/internal/notification"
	"github.com/expensems/emspush/internal/observability/metrics"
	"github.com/expensems/emspush/internal/page"
	"github.com/expensems/emspush/internal/provider"
	"github.com/expensems/emspush/internal/push"
	"github.com/expensems/emspush/internal/registration"
)

// fakeBackend serves a fixed record set for list calls and accepts mutations
type fakeBackend struct {
	records []backend.NotificationRecord
}

func (f *fakeBackend) ListNotifications(_ context.Context, _, _ int) (*backend.NotificationPage, error) {
	return &backend.NotificationPage{
		Data:        append([]backend.NotificationRecord(nil), f.records...),
		CurrentPage: 1,
		LastPage:    1,
	}, nil
}

func (f *fakeBackend) MarkRead(_ context.Context, id int64) error {
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeBackend) MarkAllRead(_ context.Context) error {
	for i := range f.records {
		f.records[i].IsRead = true
	}
	return nil
}

func (f *fakeBackend) DeleteNotification(_ context.Context, id int64) error {
	for i := range f.records {
		if f.records[i].ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) DeleteAllNotifications(_ context.Context) error {
	f.records = nil
	return nil
}

func (f *fakeBackend) UpdateToken(_ context.Context, _ string) error { return nil }
func (f *fakeBackend) DeleteToken(_ context.Context) error { return nil }

// memoryCache is an in-memory token cache
type memoryCache struct{ token string }

func (c *memoryCache) Save(token string) error { c.token = token; return nil }
func (c *memoryCache) Current() (string, error) { return c.token, nil }
func (c *memoryCache) Clear() error { c.token = ""; return nil }

type serverFixture struct {
	server *Server
	sync   *notification.Service
	tab    *page.Tab
}

func newServerFixture(t *testing.T, records []backend.NotificationRecord) *serverFixture {
	t.Helper()

	registry := prometheus.NewRegistry()
	pushMetrics, err := metrics.NewPushMetrics(registry)
	require.NoError(t, err)

	ag := agent.New(agent.DefaultConfig(), nil, pushMetrics)
	ag.Start(context.Background())
	t.Cleanup(ag.Stop)

	busConfig := page.BusConfig{
		DedupWindow: time.Second,
		DedupBucket: time.Minute,
		GraceDelay:  10 * time.Millisecond,
	}
	tab := page.Open(context.Background(), ag, busConfig, nil, pushMetrics)
	t.Cleanup(tab.Close)

	be := &fakeBackend{records: records}
	syncService := notification.NewService(notification.ServiceConfig{
		PageSize: 20, MaxPages: 5, MaxMirror: 100,
	}, be, tab.Bus(), tab.State())
	require.NoError(t, syncService.Refresh(context.Background()))

	manager := registration.New(registration.DefaultConfig(), provider.NewMockProvider(),
		be, &memoryCache{}, ag, registration.NewMemoryPermission(push.PermissionGranted, nil), nil, pushMetrics)

	return &serverFixture{
		server: New(tab, syncService, manager, registry),
		sync:   syncService,
		tab:    tab,
	}
}

func (f *serverFixture) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func testRecords() []backend.NotificationRecord {
	return []backend.NotificationRecord{
		{ID: 1, Title: "New expense", Message: "Groceries", IsRead: false, CreatedAt: time.Now()},
		{ID: 2, Title: "Invitation", Message: "Join family", IsRead: true, CreatedAt: time.Now().Add(-time.Hour)},
	}
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListNotificationsEndpoint(t *testing.T) {
	f := newServerFixture(t, testRecords())

	rec := f.do(http.MethodGet, "/api/v1/notifications")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []backend.NotificationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID, "newest first")
}

func TestStateEndpoint(t *testing.T) {
	f := newServerFixture(t, testRecords())

	rec := f.do(http.MethodGet, "/api/v1/notifications/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap page.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.UnreadCount)
	assert.False(t, snap.HasNewNotification)
}

func TestMarkReadEndpoint(t *testing.T) {
	f := newServerFixture(t, testRecords())

	rec := f.do(http.MethodPost, "/api/v1/notifications/1/read")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/notifications/state")
	var snap page.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.UnreadCount)
}

func TestMarkReadRejectsBadID(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/notifications/abc/read")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAllEndpoint(t *testing.T) {
	f := newServerFixture(t, testRecords())

	rec := f.do(http.MethodDelete, "/api/v1/notifications")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/notifications")
	var got []backend.NotificationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got)
}

func TestRequestPermissionEndpoint(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/permission/request")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mock-token-1", resp["token"])
	assert.NotContains(t, resp, "error")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t, testRecords())

	rec := f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "push_unread_count")
}
