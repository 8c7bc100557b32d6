package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/edu-progress/internal/application/command"
	"github.com/alem-hub/edu-progress/internal/application/query"
	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
	"github.com/alem-hub/edu-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/edu-progress/pkg/timeutil"
)

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (quota.Record, error) {
	return quota.Record{}, errors.New("connection refused")
}

func (brokenStore) Save(context.Context, string, quota.Record) error {
	return errors.New("connection refused")
}

type fixture struct {
	server  *Server
	durable *memory.DurableQuotaStore
	stats   *memory.StatsRepository
}

func newFixture(t *testing.T, cfg Config, durableStore quota.Store) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := timeutil.NewFixedClock(time.Date(2024, 5, 20, 12, 0, 0, 0, timeutil.AlmatyTZ))

	durable := memory.NewDurableQuotaStore()
	if durableStore == nil {
		durableStore = durable
	}
	stats := memory.NewStatsRepository()
	ledger := quota.NewLedger(memory.NewEphemeralQuotaStore(64, time.Hour), durableStore, clock)
	resolver := entitlement.NewResolver(durable)
	publisher := shared.NoopPublisher{}

	deps := Dependencies{
		CompleteActivity: command.NewCompleteActivityHandler(resolver, ledger, stats, nil, nil, publisher, logger,
			command.CompleteActivityHandlerConfig{BadgeRewards: true}),
		ChargeUsage: command.NewChargeUsageHandler(resolver, ledger, publisher, logger),
		GetQuota:    query.NewGetQuotaHandler(resolver, ledger, logger),
		GetProgress: query.NewGetProgressHandler(stats, nil),
		ListBadges:  query.NewListBadgesHandler(stats, nil),
		Logger:      logger,
	}
	return &fixture{server: NewServer(cfg, deps), durable: durable, stats: stats}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:52100"
	req.Header.Set("User-Agent", "test-agent")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func user(id string) map[string]string {
	return map[string]string{HeaderUserID: id}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("203.0.113.7", "agent")
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint(" 203.0.113.7 ", "agent "))
	assert.NotEqual(t, a, Fingerprint("203.0.113.8", "agent"))
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}

func TestServer_Entitlements(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	code, env := f.do(t, http.MethodGet, "/api/v1/entitlements", "", nil)
	require.Equal(t, http.StatusOK, code)
	policies := decode[[]entitlement.Policy](t, env.Data)
	assert.Len(t, policies, 3)

	code, env = f.do(t, http.MethodGet, "/api/v1/entitlements/guest", "", nil)
	require.Equal(t, http.StatusOK, code)
	guest := decode[entitlement.Policy](t, env.Data)
	assert.Equal(t, 10, guest.DailyTokenAllowance.Tokens)
	assert.Equal(t, 3, guest.MaxLifetimeMessages)

	code, env = f.do(t, http.MethodGet, "/api/v1/entitlements/platinum", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", env.Error.Code)
}

func TestServer_QuotaFlow(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	t.Run("anonymous chat hits the demo cap", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			code, env := f.do(t, http.MethodPost, "/api/v1/quota/consume", `{"kind":"chat_message"}`, nil)
			require.Equal(t, http.StatusOK, code)
			res := decode[command.ChargeUsageResult](t, env.Data)
			assert.True(t, res.Charged)
		}

		code, env := f.do(t, http.MethodPost, "/api/v1/quota/consume", `{"kind":"chat_message"}`, nil)
		require.Equal(t, http.StatusOK, code, "denials are not HTTP errors")
		res := decode[command.ChargeUsageResult](t, env.Data)
		assert.False(t, res.Allowed)
		assert.Equal(t, quota.ReasonDemoLimitReached, res.Reason)

		code, env = f.do(t, http.MethodGet, "/api/v1/quota", "", nil)
		require.Equal(t, http.StatusOK, code)
		dto := decode[query.QuotaDTO](t, env.Data)
		assert.Equal(t, entitlement.TierGuest, dto.Tier)
		assert.Equal(t, 7, dto.Remaining)
		require.NotNil(t, dto.MessagesLeft)
		assert.Zero(t, *dto.MessagesLeft)
	})

	t.Run("check does not charge", func(t *testing.T) {
		code, env := f.do(t, http.MethodPost, "/api/v1/quota/check", `{"kind":"activity"}`, user("u-check"))
		require.Equal(t, http.StatusOK, code)
		res := decode[command.ChargeUsageResult](t, env.Data)
		assert.True(t, res.Allowed)
		assert.False(t, res.Charged)

		_, env = f.do(t, http.MethodGet, "/api/v1/quota", "", user("u-check"))
		assert.Equal(t, 50, decode[query.QuotaDTO](t, env.Data).Remaining)
	})

	t.Run("bad kinds and bodies", func(t *testing.T) {
		code, env := f.do(t, http.MethodPost, "/api/v1/quota/consume", `{"kind":"telepathy"}`, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "invalid_input", env.Error.Code)

		code, env = f.do(t, http.MethodPost, "/api/v1/quota/consume", ``, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "invalid_body", env.Error.Code)

		code, _ = f.do(t, http.MethodPost, "/api/v1/quota/consume", `{"kind":"activity","extra":1}`, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("admin role is unlimited", func(t *testing.T) {
		headers := map[string]string{HeaderUserID: "root", HeaderUserRole: "admin"}
		_, env := f.do(t, http.MethodGet, "/api/v1/quota", "", headers)
		dto := decode[query.QuotaDTO](t, env.Data)
		assert.Equal(t, entitlement.TierPro, dto.Tier)
		assert.True(t, dto.Unlimited)
	})
}

func TestServer_Activities(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	code, env := f.do(t, http.MethodPost, "/api/v1/activities",
		`{"type":"memory","subject":"math","raw_score":90,"max_score":100}`, user("u1"))
	require.Equal(t, http.StatusOK, code)
	res := decode[command.CompleteActivityResult](t, env.Data)
	assert.Equal(t, command.StepReported, res.Step)
	assert.True(t, res.Won)
	assert.True(t, res.RewardApplied)
	assert.Contains(t, res.NewBadges, "first-steps")
	assert.NotEmpty(t, env.RequestID)

	_, env = f.do(t, http.MethodGet, "/api/v1/progress", "", user("u1"))
	progressDTO := decode[query.ProgressDTO](t, env.Data)
	assert.Equal(t, 1, progressDTO.Stats.TotalGamesPlayed)
	require.Len(t, progressDTO.Subjects, 1)
	assert.Equal(t, "math", progressDTO.Subjects[0].Subject)

	_, env = f.do(t, http.MethodGet, "/api/v1/badges", "", user("u1"))
	badges := decode[query.BadgesDTO](t, env.Data)
	assert.Equal(t, 10, badges.Total)
	assert.GreaterOrEqual(t, badges.Unlocked, 1)

	code, env = f.do(t, http.MethodPost, "/api/v1/activities", `{"type":"chess","raw_score":1,"max_score":1}`, user("u1"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", env.Error.Code)
}

func TestServer_StoreUnavailable(t *testing.T) {
	f := newFixture(t, DefaultConfig(), brokenStore{})

	code, env := f.do(t, http.MethodGet, "/api/v1/quota", "", user("u1"))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", env.Error.Code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/activities",
		`{"type":"quiz","raw_score":5,"max_score":10}`, user("u1"))
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServer_StrictUserIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictUserIDs = true
	f := newFixture(t, cfg, nil)

	code, env := f.do(t, http.MethodGet, "/api/v1/quota", "", user("not-a-uuid"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_user_id", env.Error.Code)

	code, _ = f.do(t, http.MethodGet, "/api/v1/quota", "", user("6f1c2b8e-3a4d-4c5e-9f70-1a2b3c4d5e6f"))
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_HealthAndFallbacks(t *testing.T) {
	f := newFixture(t, Config{Version: "test"}, nil)

	code, env := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	f.server.deps.HealthChecker.AddCheck("db", func(context.Context) error { return errors.New("down") })
	code, _ = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, env = f.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Error.Code)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/quota", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}
