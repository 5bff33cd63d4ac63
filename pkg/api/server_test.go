package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhound-project/darkhound/pkg/config"
	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/hunt"
	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/security"
	"github.com/darkhound-project/darkhound/pkg/services"
	"github.com/darkhound-project/darkhound/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type modeChange struct {
	sessionID string
	mode      models.SessionMode
}

type fakeSessionRuntime struct {
	createFn    func(ctx context.Context, assetID, analystID string) (*session.Context, error)
	getFn       func(id string) (*session.Context, error)
	lockErr     error
	unlockErr   error
	terminated  []string
	modeChanges []modeChange
	activeCount int
}

func (f *fakeSessionRuntime) Create(ctx context.Context, assetID, analystID string) (*session.Context, error) {
	if f.createFn != nil {
		return f.createFn(ctx, assetID, analystID)
	}
	return nil, session.ErrCapacityExhausted
}

func (f *fakeSessionRuntime) Get(id string) (*session.Context, error) {
	if f.getFn != nil {
		return f.getFn(id)
	}
	return nil, session.ErrSessionNotFound
}

func (f *fakeSessionRuntime) Transition(ctx context.Context, id string, to models.SessionState, reason string) error {
	return nil
}

func (f *fakeSessionRuntime) Terminate(ctx context.Context, id, reason string) error {
	f.terminated = append(f.terminated, id)
	return nil
}

func (f *fakeSessionRuntime) SetMode(ctx context.Context, id string, mode models.SessionMode) error {
	f.modeChanges = append(f.modeChanges, modeChange{sessionID: id, mode: mode})
	return nil
}

func (f *fakeSessionRuntime) Lock(ctx context.Context, id, analystID string) error {
	return f.lockErr
}

func (f *fakeSessionRuntime) Unlock(ctx context.Context, id, analystID string) error {
	return f.unlockErr
}

func (f *fakeSessionRuntime) ActiveCount() int { return f.activeCount }

type fakeHuntRuntime struct {
	startFn   func(ctx context.Context, sessionID, moduleID string, runAI bool) (string, error)
	cancelled map[string]bool
}

func (f *fakeHuntRuntime) Start(ctx context.Context, sessionID, moduleID string, runAI bool) (string, error) {
	if f.startFn != nil {
		return f.startFn(ctx, sessionID, moduleID, runAI)
	}
	return "hunt-1", nil
}

func (f *fakeHuntRuntime) Cancel(huntID string) bool {
	return f.cancelled[huntID]
}

type testHarness struct {
	server  *Server
	router  *gin.Engine
	mock    sqlmock.Sqlmock
	issuer  *security.TokenIssuer
	runtime *fakeSessionRuntime
	hunts   *fakeHuntRuntime
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	db := sqlx.NewDb(rawDB, "pgx")

	registry, err := hunt.NewRegistry(t.TempDir())
	require.NoError(t, err)

	settings := &config.Settings{
		AppEnv:      "test",
		SecretKey:   "test-secret-key-that-is-long-enough!!",
		CORSOrigins: "http://localhost:5173",
	}
	issuer := security.NewTokenIssuer(settings.SecretKey, time.Hour, 24*time.Hour)
	cipher, err := security.NewCipher(settings.SecretKey)
	require.NoError(t, err)

	runtime := &fakeSessionRuntime{}
	huntRuntime := &fakeHuntRuntime{cancelled: map[string]bool{}}

	srv := NewServer(Deps{
		Settings:     settings,
		Issuer:       issuer,
		Resolver:     security.NewCredentialResolver(settings, cipher),
		Users:        services.NewUserService(db),
		Assets:       services.NewAssetService(db, cipher),
		Sessions:     services.NewSessionService(db),
		Hunts:        services.NewHuntService(db),
		Findings:     services.NewFindingService(db),
		Timeline:     services.NewTimelineService(db),
		Manager:      runtime,
		Orchestrator: huntRuntime,
		Registry:     registry,
		Emitter:      events.NewEmitter(events.NewBus(16)),
		Hub:          events.NewHub(time.Second),
	})

	return &testHarness{
		server:  srv,
		router:  srv.Router(),
		mock:    mock,
		issuer:  issuer,
		runtime: runtime,
		hunts:   huntRuntime,
	}
}

func userColumns() []string {
	return []string{"id", "username", "password_hash", "role", "is_active", "created_at"}
}

// expectUserLookup arms the mock for the account load requireAuth does on
// every authenticated request.
func (h *testHarness) expectUserLookup(t *testing.T, username, role string, active bool) {
	t.Helper()
	hash, err := security.HashPassword("irrelevant-pw")
	require.NoError(t, err)
	h.mock.ExpectQuery(`SELECT \* FROM users WHERE username`).
		WithArgs(username).
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("uid-"+username, username, hash, role, active, time.Now()))
}

func (h *testHarness) token(t *testing.T, username string, role models.UserRole) string {
	t.Helper()
	access, _, err := h.issuer.IssuePair(username, role)
	require.NoError(t, err)
	return access
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(data)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	hash, err := security.HashPassword("correct-password")
	require.NoError(t, err)
	h.mock.ExpectQuery(`SELECT \* FROM users WHERE username`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("uid-1", "alice", hash, "analyst", true, time.Now()))

	rec := h.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Username: "alice", Password: "correct-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "bearer", resp.TokenType)

	claims, err := h.issuer.VerifyAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newHarness(t)

	hash, err := security.HashPassword("correct-password")
	require.NoError(t, err)
	h.mock.ExpectQuery(`SELECT \* FROM users WHERE username`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow("uid-1", "alice", hash, "analyst", true, time.Now()))

	rec := h.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Username: "alice", Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegister_FirstUserBecomesAdmin(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	h.mock.ExpectExec(`INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := h.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
		Username: "alice", Password: "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(models.RoleAdmin), resp.Role)
}

func TestRegister_ClosedAfterBootstrap(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rec := h.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
		Username: "mallory", Password: "hunter2hunter2",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/hunts/modules", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_GarbageToken(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/hunts/modules", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_InactiveUser(t *testing.T) {
	h := newHarness(t)
	h.expectUserLookup(t, "alice", "analyst", false)

	rec := h.do(t, http.MethodGet, "/api/v1/hunts/modules",
		h.token(t, "alice", models.RoleAnalyst), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin_RejectsAnalyst(t *testing.T) {
	h := newHarness(t)
	h.expectUserLookup(t, "alice", "analyst", true)

	rec := h.do(t, http.MethodGet, "/api/v1/admin/users",
		h.token(t, "alice", models.RoleAnalyst), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/ws?token=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORS_PreflightAllowedOrigin(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/assets", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_UnknownOriginGetsNoHeader(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/assets", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
