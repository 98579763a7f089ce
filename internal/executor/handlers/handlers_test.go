package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/db"
	"github.com/kandev/kanrun/internal/executor/controller"
	"github.com/kandev/kanrun/internal/executor/discovery"
	"github.com/kandev/kanrun/internal/executor/dto"
	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/profiles"
	"github.com/kandev/kanrun/internal/executor/scratch"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	ctx := context.Background()

	defaults, err := profiles.LoadDefaults()
	require.NoError(t, err)
	session, err := profiles.NewSession(ctx, profiles.NewMemorySource(defaults), log)
	require.NoError(t, err)

	discoverer, err := discovery.NewBuiltinDiscoverer()
	require.NoError(t, err)
	disc := discovery.NewService(discoverer, discovery.NewCache(time.Minute, 16), nil, log)
	t.Cleanup(disc.Close)

	dbConn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(dbConn, "sqlite3")
	t.Cleanup(func() { _ = sqlxDB.Close() })
	store, err := scratch.NewStore(sqlxDB, sqlxDB)
	require.NoError(t, err)
	writer := scratch.NewWriter(store, time.Hour, log)
	t.Cleanup(func() { _ = writer.Close(context.Background()) })

	router := gin.New()
	RegisterRoutes(router, controller.NewController(session, disc, writer, nil, log), log)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetAndPutProfiles(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/executor-profiles", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Index(w.Body.String(), `"CLAUDE_CODE"`) < strings.Index(w.Body.String(), `"CODEX"`))

	w = doJSON(t, router, http.MethodPut, "/api/v1/executor-profiles", `{"CODEX":{"DEFAULT":{},"FAST":{"reasoning_id":"low"}}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var doc profiles.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, []models.AgentID{models.AgentCodex}, doc.Executors())
	assert.Equal(t, []string{"DEFAULT", "FAST"}, doc.Variants(models.AgentCodex))

	w = doJSON(t, router, http.MethodPut, "/api/v1/executor-profiles", `{"NOT_AN_AGENT":{"DEFAULT":{}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordRecentModels(t *testing.T) {
	router := newTestRouter(t)

	body := `{"touches":[
		{"executor":"CODEX","model_key":"openai/o3"},
		{"executor":"CODEX","model_key":"openai/gpt-5","reasoning_id":"xhigh"}
	]}`
	w := doJSON(t, router, http.MethodPost, "/api/v1/executor-profiles/recent-models", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc profiles.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	profile, ok := doc.Profile(models.AgentCodex)
	require.True(t, ok)
	recent := profile.RecentModels()
	assert.Equal(t, []string{"openai/o3", "openai/gpt-5"}, recent.Models, "most recent last")
	r, ok := recent.Reasoning("openai/gpt-5")
	require.True(t, ok)
	assert.Equal(t, "xhigh", r)

	w = doJSON(t, router, http.MethodPost, "/api/v1/executor-profiles/recent-models", `{"touches":[{"executor":"CODEX"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveOverlaysDiscoveredDefaults(t *testing.T) {
	router := newTestRouter(t)

	body := `{"selection":{"executor":"codex","variant":"APPROVALS"},"scratch_id":"draft-1"}`
	w := doJSON(t, router, http.MethodPost, "/api/v1/executor-config/resolve", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.ResolveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.True(t, resp.VariantUserSelected)
	assert.Equal(t, models.AgentCodex, resp.Config.Executor)
	require.NotNil(t, resp.Config.ModelID)
	assert.Equal(t, "openai/gpt-5-codex", *resp.Config.ModelID)
	require.NotNil(t, resp.Config.PermissionPolicy)
	assert.Equal(t, models.PermissionSupervised, *resp.Config.PermissionPolicy)
	assert.Equal(t, "preset", resp.Sources["model_id"])

	w = doJSON(t, router, http.MethodGet, "/api/v1/scratch/draft-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var draft dto.ScratchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))
	assert.Equal(t, "APPROVALS", *draft.Config.Variant)
}

func TestResolveEmptyInputsPicksFirstExecutor(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/v1/executor-config/resolve", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.ResolveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.AgentClaudeCode, resp.Config.Executor)
	assert.Equal(t, "DEFAULT", *resp.Config.Variant)
	assert.Nil(t, resp.Config.ModelID, "presets apply only to a user-selected variant")
}

func TestScratchLifecycle(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/scratch/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPut, "/api/v1/scratch/d2", `{"executor":"AMP","agent_id":"rush"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/scratch/d2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rush"`)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/scratch/d2", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/v1/scratch/d2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPut, "/api/v1/scratch/d3", `{"permission_policy":"YOLO"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOptions(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/executors/codex/options", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp dto.OptionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.AgentCodex, resp.Executor)
	assert.Equal(t, []string{"DEFAULT", "HIGH", "APPROVALS"}, resp.Variants)
	require.NotEmpty(t, resp.ModelSelector.Models)
	assert.Equal(t, "gpt-5", resp.ModelSelector.Models[0].ID)

	doJSON(t, router, http.MethodPost, "/api/v1/executor-profiles/recent-models", `{"touches":[{"executor":"CODEX","model_key":"openai/o3"}]}`)
	w = doJSON(t, router, http.MethodGet, "/api/v1/executors/codex/options", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "o3", resp.ModelSelector.Models[0].ID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/executors/codex/options?align=bottom", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "o3", resp.ModelSelector.Models[len(resp.ModelSelector.Models)-1].ID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/executors/vim/options", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamOptions(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/executors/amp/options/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp dto.OptionsResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, models.AgentAmp, resp.Executor)
	require.Len(t, resp.ModelSelector.Agents, 2)
	assert.Equal(t, "smart", resp.ModelSelector.Agents[0].ID)
}

func readPickerEvent(t *testing.T, conn *websocket.Conn, match func(dto.PickerEvent) bool) dto.PickerEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev dto.PickerEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if match(ev) {
			return ev
		}
	}
}

func resultFor(executor models.AgentID) func(dto.PickerEvent) bool {
	return func(ev dto.PickerEvent) bool {
		return ev.Result != nil && ev.Result.Config.Executor == executor
	}
}

func TestPickerStream(t *testing.T) {
	router := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/executor-config/picker?scratch_id=p1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	ev := readPickerEvent(t, conn, func(ev dto.PickerEvent) bool { return ev.Result != nil })
	assert.Equal(t, models.AgentClaudeCode, ev.Result.Config.Executor)
	assert.True(t, ev.Result.Ready)

	require.NoError(t, conn.WriteJSON(map[string]any{"executor": "codex"}))
	readPickerEvent(t, conn, resultFor(models.AgentCodex))

	require.NoError(t, conn.WriteJSON(map[string]any{"overrides": map[string]any{"model_id": "openai/o3"}}))
	ev = readPickerEvent(t, conn, func(ev dto.PickerEvent) bool {
		return ev.Result != nil && ev.Result.Config.ModelID != nil && *ev.Result.Config.ModelID == "openai/o3"
	})
	assert.Equal(t, models.AgentCodex, ev.Result.Config.Executor)

	require.NoError(t, conn.WriteJSON(map[string]any{"executor": "vim"}))
	ev = readPickerEvent(t, conn, func(ev dto.PickerEvent) bool { return ev.Error != "" })
	assert.Contains(t, ev.Error, "invalid command")

	require.NoError(t, conn.WriteJSON(map[string]any{}))
	ev = readPickerEvent(t, conn, func(ev dto.PickerEvent) bool { return ev.Error != "" })
	assert.Contains(t, ev.Error, "expected executor")

	assert.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/api/v1/scratch/p1", "")
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"openai/o3"`)
	}, 2*time.Second, 10*time.Millisecond, "picker results are saved as the draft")

	// The model pick is recorded once the stream closes.
	w := doJSON(t, router, http.MethodGet, "/api/v1/executors/codex/options", "")
	var resp dto.OptionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "gpt-5", resp.ModelSelector.Models[0].ID)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/api/v1/executors/codex/options", "")
		var resp dto.OptionsResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.ModelSelector.Models) == 0 {
			return false
		}
		return resp.ModelSelector.Models[0].Key() == "openai/o3"
	}, 2*time.Second, 10*time.Millisecond)
}
