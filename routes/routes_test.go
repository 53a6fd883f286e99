package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/handlers"
	"github.com/Dosada05/tournament-engine/live"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/middleware"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/services"
	"github.com/Dosada05/tournament-engine/storage"
	"github.com/Dosada05/tournament-engine/utils"
)

const (
	testJWTSecret    = "jwt-secret"
	testWebhookToken = "webhook-secret"
	testServiceToken = "service-secret"
)

type recordingCommander struct {
	mu       sync.Mutex
	commands []string
}

func (c *recordingCommander) SendCommand(_ context.Context, serverID, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, serverID+": "+command)
	return nil
}

type testServer struct {
	*httptest.Server
	store      *repositories.MemoryStore
	adminToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repositories.NewMemoryStore()
	m := metrics.New()
	broadcaster := live.NewBroadcaster(logger, live.WithMetrics(m))
	audit := storage.NewAuditLog(storage.NewMemoryUploader())
	resolver := brackets.NewResolver(store.Matches, store.Standings, store.Tournaments, logger, brackets.WithRetry(1, 0))
	locker := services.NewLocker()
	progress := services.NewProgressTracker()

	matchService := services.NewMatchService(services.MatchServiceDeps{
		Matches:     store.Matches,
		Teams:       store.Teams,
		Tournaments: store.Tournaments,
		Resolver:    resolver,
		Live:        broadcaster,
		Commander:   &recordingCommander{},
		Audit:       audit,
		Metrics:     m,
		Locker:      locker,
		Progress:    progress,
		Logger:      logger,
	}, services.MatchServiceConfig{PublicBaseURL: "https://cup.example.com"})
	ingestService := services.NewIngestService(store.Matches, matchService, broadcaster, audit, m, locker, progress, logger)
	tournamentService := services.NewTournamentService(store.Tournaments, store.Teams, store.Standings, store.Matches,
		brackets.NewDoubleEliminationGenerator(), resolver, locker, logger)

	router := chi.NewRouter()
	SetupRoutes(router,
		Options{
			ObserverLimiter: middleware.NewIPRateLimiter(rate.Limit(10), 10),
			Metrics:         m.Handler(),
		},
		middleware.NewAuthenticator(testJWTSecret, testServiceToken, testWebhookToken, logger),
		handlers.NewMatchHandler(matchService, tournamentService, broadcaster, logger),
		handlers.NewTournamentHandler(tournamentService, logger),
		handlers.NewWebhookHandler(ingestService, logger),
		handlers.NewWebSocketHandler(broadcaster, matchService, nil),
		handlers.NewSystemHandler(nil),
	)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	token, err := utils.GenerateJWT([]byte(testJWTSecret), 1, middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)
	return &testServer{Server: srv, store: store, adminToken: token}
}

func (s *testServer) do(t *testing.T, method, path string, headers map[string]string, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (s *testServer) admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.adminToken}
}

func webhook() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testWebhookToken}
}

// createBracket creates four teams and a tournament starting now.
func (s *testServer) createBracket(t *testing.T) services.BracketView {
	t.Helper()
	ids := make([]int, 0, 4)
	for i := 1; i <= 4; i++ {
		status, body := s.do(t, http.MethodPost, "/api/admin/teams", s.admin(),
			fmt.Sprintf(`{"name":"Team %d","tag":"T%d"}`, i, i))
		require.Equal(t, http.StatusCreated, status, string(body))
		var resp struct {
			Team models.Team `json:"team"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		ids = append(ids, resp.Team.ID)
	}

	payload, err := json.Marshal(services.CreateTournamentInput{
		Name:                 "Spring Cup",
		TeamIDs:              ids,
		StartAt:              time.Now().UTC(),
		MatchIntervalMinutes: 60,
	})
	require.NoError(t, err)
	status, body := s.do(t, http.MethodPost, "/api/admin/tournaments", s.admin(), string(payload))
	require.Equal(t, http.StatusCreated, status, string(body))

	var view services.BracketView
	require.NoError(t, json.Unmarshal(body, &view))
	return view
}

func findRound(t *testing.T, view services.BracketView, r models.Round) *models.Match {
	t.Helper()
	for _, m := range view.Matches {
		if m.Round == r {
			return m
		}
	}
	t.Fatalf("round %s not in bracket", r)
	return nil
}

func TestWebhookRequiresToken(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodPost, "/api/live/events", nil, `{"event":"series_start","matchid":1}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/api/live/events",
		map[string]string{"Authorization": "Bearer wrong"}, `{"event":"series_start","matchid":1}`)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodPost, "/api/admin/teams", nil, `{"name":"Team 1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	// сервисный ключ открывает только завершение матча
	status, _ = s.do(t, http.MethodPost, "/api/admin/teams",
		map[string]string{middleware.ServiceCredentialHeader: testServiceToken}, `{"name":"Team 1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMatchLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	view := s.createBracket(t)
	require.Len(t, view.Matches, 6)

	semi := findRound(t, view, models.UpperRound(models.StageSemi, 1))
	require.Equal(t, models.PhaseScheduled, semi.Phase)

	// первое событие запускает матч
	status, body := s.do(t, http.MethodPost, fmt.Sprintf("/api/matches/%d/events", semi.ID), webhook(),
		fmt.Sprintf(`{"event":"series_start","matchid":"%d"}`, semi.ID))
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = s.do(t, http.MethodPost, fmt.Sprintf("/api/matches/%d/events", semi.ID), webhook(),
		fmt.Sprintf(`{"event":"round_end","matchid":"%d","map_number":0}`, semi.ID))
	assert.Equal(t, http.StatusUnprocessableEntity, status, string(body))

	status, _ = s.do(t, http.MethodPost, fmt.Sprintf("/api/matches/%d/events", semi.ID), webhook(),
		fmt.Sprintf(`{"event":"series_start","matchid":"%d"}`, semi.ID+100))
	assert.Equal(t, http.StatusBadRequest, status, "path and body disagree")

	finishPath := fmt.Sprintf("/api/admin/matches/%d/finish", semi.ID)
	status, _ = s.do(t, http.MethodPost, finishPath, s.admin(), `{"team1_score":1,"team2_score":1}`)
	assert.Equal(t, http.StatusBadRequest, status, "ties are rejected")

	status, body = s.do(t, http.MethodPost, finishPath,
		map[string]string{middleware.ServiceCredentialHeader: testServiceToken}, `{"team1_score":16,"team2_score":9}`)
	require.Equal(t, http.StatusOK, status, string(body))

	var result services.FinishResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, models.PhaseFinished, result.Match.Phase)
	assert.True(t, result.Match.Advanced)

	status, _ = s.do(t, http.MethodPost, finishPath, s.admin(), `{"team1_score":16,"team2_score":9}`)
	assert.Equal(t, http.StatusConflict, status)

	status, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/tournaments/%d/bracket", view.Tournament.ID), nil, "")
	require.Equal(t, http.StatusOK, status)
	var after services.BracketView
	require.NoError(t, json.Unmarshal(body, &after))
	final := findRound(t, after, models.UpperRound(models.StageFinal, 1))
	require.NotNil(t, final.Team1.TeamID)
	assert.Equal(t, *result.Match.WinnerID, *final.Team1.TeamID)

	status, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/matches/%d/live", semi.ID), nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"team1_score": 16`)
}

func TestPublicReadsAndErrors(t *testing.T) {
	s := newTestServer(t)
	view := s.createBracket(t)

	status, _ := s.do(t, http.MethodGet, "/api/matches/9999", nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodGet, "/api/matches/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := s.do(t, http.MethodGet, "/api/tournaments?status=active", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "Spring Cup")

	status, _ = s.do(t, http.MethodGet, "/api/tournaments?status=archived", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/tournaments/%d/matches", view.Tournament.ID), nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "grand-final")

	status, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/tournaments/%d", view.Tournament.ID), s.admin(), "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = s.do(t, http.MethodGet, fmt.Sprintf("/api/tournaments/%d/bracket", view.Tournament.ID), nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMatchConfigRequiresWebhookToken(t *testing.T) {
	s := newTestServer(t)
	view := s.createBracket(t)
	semi := findRound(t, view, models.UpperRound(models.StageSemi, 1))
	path := fmt.Sprintf("/api/matches/%d/config", semi.ID)

	status, _ := s.do(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, path, webhook(), "")
	assert.Equal(t, http.StatusConflict, status, "veto is not recorded yet")

	status, body := s.do(t, http.MethodPut, fmt.Sprintf("/api/admin/matches/%d/veto", semi.ID), s.admin(),
		`{"steps":[{"action":"ban","side":"team1","map":"de_nuke"},{"action":"pick","side":"team2","map":"de_mirage"}]}`)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = s.do(t, http.MethodGet, path, webhook(), "")
	require.Equal(t, http.StatusOK, status, string(body))

	var cfg services.MatchConfig
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, fmt.Sprint(semi.ID), cfg.MatchID)
	assert.Equal(t, 1, cfg.NumMaps)
	assert.Equal(t, []string{"de_mirage"}, cfg.MapList)
}

func TestSystemEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "ok")

	status, body = s.do(t, http.MethodGet, "/swagger/doc.json", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"openapi"`)

	status, body = s.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestObserverReceivesSnapshotFirst(t *testing.T) {
	s := newTestServer(t)
	view := s.createBracket(t)
	semi := findRound(t, view, models.UpperRound(models.StageSemi, 1))

	url := "ws" + strings.TrimPrefix(s.URL, "http") + fmt.Sprintf("/ws/matches/%d", semi.ID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/ws/matches/9999", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
