package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockfleet/node-agent/app/clients"
	"dockfleet/node-agent/app/identity"
	"dockfleet/node-agent/app/storage"
	"dockfleet/node-agent/app/utils"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"
)

type submitted struct {
	TaskID string
	Status string
	Result json.RawMessage
	Error  *string
}

// fakeController implements the controller endpoints the agent calls
type fakeController struct {
	t *testing.T

	mu             sync.Mutex
	pendingJSON    string
	registrations  []Registration
	heartbeats     []HeartbeatPayload
	results        []submitted
	authHeaders    []string
	heartbeatCodes []int
	resultCodes    []int
	retryAfter     string
}

func newFakeController(t *testing.T) (*fakeController, *httptest.Server) {
	fc := &fakeController{t: t, pendingJSON: `[]`}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/agents/register", func(w http.ResponseWriter, r *http.Request) {
		var reg Registration
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		fc.mu.Lock()
		fc.registrations = append(fc.registrations, reg)
		token := "token-" + strconv.Itoa(len(fc.registrations))
		fc.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]interface{}{"agent": map[string]string{"id": reg.ID}, "token": token})
	})

	mux.HandleFunc("POST /v1/agents/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var hb HeartbeatPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&hb))
		fc.mu.Lock()
		fc.heartbeats = append(fc.heartbeats, hb)
		code := fc.nextCode(&fc.heartbeatCodes)
		fc.mu.Unlock()
		if code == http.StatusNotFound {
			writeJSON(w, code, map[string]string{"error": "agent not found: " + hb.AgentID, "code": "NOT_FOUND"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	})

	mux.HandleFunc("GET /v1/agents/{id}/tasks/pending", func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		fc.authHeaders = append(fc.authHeaders, r.Header.Get("Authorization"))
		body := `{"tasks":` + fc.pendingJSON + `}`
		fc.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})

	mux.HandleFunc("POST /v1/agents/{id}/tasks/{taskId}/result", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string          `json:"status"`
			Result json.RawMessage `json:"result"`
			Error  *string         `json:"error"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fc.mu.Lock()
		code := fc.nextCode(&fc.resultCodes)
		if code == http.StatusOK {
			fc.results = append(fc.results, submitted{TaskID: r.PathValue("taskId"), Status: body.Status, Result: body.Result, Error: body.Error})
		}
		retryAfter := fc.retryAfter
		fc.mu.Unlock()

		if code != http.StatusOK {
			if retryAfter != "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			writeJSON(w, code, map[string]string{"error": http.StatusText(code), "code": "TEST"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": r.PathValue("taskId")})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fc, srv
}

// nextCode pops the next scripted status code; the default is 200
func (fc *fakeController) nextCode(codes *[]int) int {
	if len(*codes) == 0 {
		return http.StatusOK
	}
	code := (*codes)[0]
	*codes = (*codes)[1:]
	return code
}

func (fc *fakeController) submitted() []submitted {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]submitted(nil), fc.results...)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type agentHarness struct {
	fc     *fakeController
	client *AgentClient
	store  *storage.Store
	outbox *ResultOutbox
	dir    string
}

func newAgentHarness(t *testing.T) *agentHarness {
	t.Helper()
	fc, srv := newFakeController(t)
	dir := t.TempDir()

	store, err := storage.NewStore(filepath.Join(dir, "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := NewAgentClient(clients.NewHTTPClient(srv.URL, "token-0"))
	outbox := NewResultOutbox(store, client, "a1", utils.NewRetryPolicy(3, time.Second, time.Minute), logger.NewNop())
	return &agentHarness{fc: fc, client: client, store: store, outbox: outbox, dir: dir}
}

func (h *agentHarness) registration(agentID string) *RegistrationService {
	return NewRegistrationService(h.client,
		identity.NewManager(filepath.Join(h.dir, "identity.json")),
		identity.NewCollector(nil),
		agentID, "http://10.0.0.5:9090", "1.0.0", logger.NewNop())
}

type fakeSnapshotter struct{}

func (fakeSnapshotter) Snapshot(context.Context) (*domains.AgentMetrics, *domains.RuntimeInfo, error) {
	return &domains.AgentMetrics{ContainerCount: 3, StackCount: 1}, &domains.RuntimeInfo{Version: "28.5.2", Containers: 3}, nil
}
