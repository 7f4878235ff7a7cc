package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
	"tempvoice/internal/core/services"
	"tempvoice/internal/infrastructure/monitoring"
	platformmem "tempvoice/internal/infrastructure/platform/memory"
	"tempvoice/internal/infrastructure/repositories/memory"
	"tempvoice/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testCreator  domain.ChannelID = "creator"
	testCategory domain.ChannelID = "cat"
)

type apiFixture struct {
	t        *testing.T
	engine   *gin.Engine
	platform *platformmem.Platform
	router   *services.Router
	rooms    ports.RoomRepository
	auth     services.AuthService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	cfg := config.DefaultConfig()
	platform := platformmem.New()
	platform.AddChannel(testCreator, testCategory, "Join to create", "")

	rooms := memory.NewMemoryRoomRepository()
	seen := memory.NewMemoryIdempotencyStore(time.Minute)
	t.Cleanup(seen.Close)

	controller := services.NewController(services.ControllerConfig{
		CreatorChannels: []domain.ChannelID{testCreator},
		CategoryID:      testCategory,
		GraceWindow:     time.Hour,
	}, rooms, memory.NewMemoryOwnerRepository(), platform, services.NewKeyedSerializer(), logger)
	t.Cleanup(controller.Stop)

	dispatcher := services.NewDispatcher(controller, logger)
	reconciler := services.NewReconciler(services.ReconcilerConfig{CategoryID: testCategory}, controller, logger)

	collector := monitoring.NewPrometheusCollector()
	controller.SetMetrics(collector)
	health := monitoring.NewHealthChecker()
	health.AddPlatformCheck(platform, testCreator, time.Second)

	auth := services.NewAuthService("test-secret", time.Hour)
	engine := NewRouter(cfg, auth, Handlers{
		Rooms:  NewRoomHandler(dispatcher, controller),
		Owners: NewOwnerHandler(dispatcher),
		Ops:    NewOpsHandler(reconciler, health, collector.Registry()),
	}, logger)

	return &apiFixture{
		t:        t,
		engine:   engine,
		platform: platform,
		router:   services.NewRouter(controller, seen, nil, logger),
		rooms:    rooms,
		auth:     auth,
	}
}

func (f *apiFixture) createRoom(owner domain.UserID) domain.ChannelID {
	f.t.Helper()
	ev, err := f.platform.Connect(owner, testCreator)
	require.NoError(f.t, err)
	require.NoError(f.t, f.router.Handle(context.Background(), ev))
	owned, err := f.rooms.FindByOwner(context.Background(), owner)
	require.NoError(f.t, err)
	require.Len(f.t, owned, 1)
	return owned[0].ID
}

func (f *apiFixture) do(method, path string, role services.Role, user domain.UserID, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := f.auth.GenerateToken(user, role)
		require.NoError(f.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPerformAction_StatusMapping(t *testing.T) {
	f := newAPIFixture(t)
	room := f.createRoom("alice")
	path := "/api/v1/rooms/" + string(room) + "/actions"

	tests := []struct {
		name   string
		user   domain.UserID
		body   ActionRequest
		status int
		result string
	}{
		{"owner locks", "alice", ActionRequest{Action: domain.ActionLock}, http.StatusOK, "ok"},
		{"stranger locks", "bob", ActionRequest{Action: domain.ActionLock}, http.StatusForbidden, "denied"},
		{"limit out of range", "alice", ActionRequest{Action: domain.ActionSetLimit, Limit: intPtr(150)}, http.StatusBadRequest, "error"},
		{"unknown action", "alice", ActionRequest{Action: "dance"}, http.StatusBadRequest, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, path, services.RoleUser, tt.user, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.result, decode(t, w)["status"])
		})
	}
}

func TestPerformAction_ReturnsRoomSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	room := f.createRoom("alice")

	w := f.do(http.MethodPost, "/api/v1/rooms/"+string(room)+"/actions", services.RoleUser, "alice",
		ActionRequest{Action: domain.ActionSetLimit, Limit: intPtr(5)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	snapshot := decode(t, w)["room"].(map[string]interface{})
	assert.Equal(t, float64(5), snapshot["user_limit"])
	assert.Equal(t, "alice", snapshot["owner_id"])
}

func TestPerformAction_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodPost, "/api/v1/rooms/x/actions", "", "", ActionRequest{Action: domain.ActionLock})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPerformAction_MalformedBody(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodPost, "/api/v1/rooms/x/actions", services.RoleUser, "alice", map[string]int{"action": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
}

func TestRooms_GetAndList(t *testing.T) {
	f := newAPIFixture(t)
	room := f.createRoom("alice")
	f.createRoom("bob")

	w := f.do(http.MethodGet, "/api/v1/rooms/"+string(room), services.RoleUser, "carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(room), decode(t, w)["room"].(map[string]interface{})["id"])

	w = f.do(http.MethodGet, "/api/v1/rooms/missing", services.RoleUser, "carol", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/v1/rooms", services.RoleUser, "carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["total"])

	w = f.do(http.MethodGet, "/api/v1/rooms?owner=bob", services.RoleUser, "carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])
}

func TestRooms_ListClaims(t *testing.T) {
	f := newAPIFixture(t)
	room := f.createRoom("alice")

	w := f.do(http.MethodGet, "/api/v1/rooms/"+string(room)+"/claims", services.RoleUser, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["claims"])
}

func TestTrusted_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/api/v1/trusted/bob", services.RoleUser, "alice", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/v1/trusted/alice", services.RoleUser, "alice", nil).Code)

	w := f.do(http.MethodGet, "/api/v1/trusted", services.RoleUser, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"bob"}, decode(t, w)["trusted"])

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/trusted/bob", services.RoleUser, "alice", nil).Code)
	w = f.do(http.MethodGet, "/api/v1/trusted", services.RoleUser, "alice", nil)
	assert.Empty(t, decode(t, w)["trusted"])
}

func TestBlocked_DisplacesTrust(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/api/v1/trusted/bob", services.RoleUser, "alice", nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPut, "/api/v1/blocked/bob", services.RoleUser, "alice", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/v1/blocked/alice", services.RoleUser, "alice", nil).Code)

	w := f.do(http.MethodGet, "/api/v1/blocked", services.RoleUser, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"bob"}, decode(t, w)["blocked"])
	w = f.do(http.MethodGet, "/api/v1/trusted", services.RoleUser, "alice", nil)
	assert.Empty(t, decode(t, w)["trusted"])

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/blocked/bob", services.RoleUser, "alice", nil).Code)
	w = f.do(http.MethodGet, "/api/v1/blocked", services.RoleUser, "alice", nil)
	assert.Empty(t, decode(t, w)["blocked"])
}

func TestSettings_SaveAndGet(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/settings", services.RoleUser, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", decode(t, w)["settings"].(map[string]interface{})["default_name"])

	w = f.do(http.MethodPut, "/api/v1/settings", services.RoleUser, "alice",
		SettingsRequest{DefaultName: "Study hall", DefaultLimit: 4, DefaultLocked: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/api/v1/settings", services.RoleUser, "alice", nil)
	settings := decode(t, w)["settings"].(map[string]interface{})
	assert.Equal(t, "Study hall", settings["default_name"])
	assert.Equal(t, float64(4), settings["default_limit"])
	assert.Equal(t, true, settings["default_locked"])

	w = f.do(http.MethodPut, "/api/v1/settings", services.RoleUser, "alice", SettingsRequest{DefaultLimit: 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconcile_RequiresBridgeRole(t *testing.T) {
	f := newAPIFixture(t)
	room := f.createRoom("alice")
	f.platform.DeleteExternally(room)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/reconcile", services.RoleUser, "alice", nil).Code)

	w := f.do(http.MethodPost, "/api/v1/reconcile", services.RoleBridge, "bridge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["checked"])
	assert.Equal(t, float64(1), body["repairs"].(map[string]interface{})["orphan_row"])

	_, err := f.rooms.GetByID(context.Background(), room)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestOps_HealthReadyAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	f.createRoom("alice")

	w := f.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tempvoice_rooms_created_total 1")

	f.platform.DeleteExternally(testCreator)
	w = f.do(http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w)["status"])
}

func intPtr(n int) *int { return &n }
