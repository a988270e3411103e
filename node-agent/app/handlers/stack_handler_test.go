package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockfleet/node-agent/app/executor"
	"dockfleet/pkg/domains"
	"dockfleet/pkg/logger"
)

type fakeLister struct {
	containers []executor.ContainerInfo
	err        error
}

func (f *fakeLister) ListContainers(context.Context) ([]executor.ContainerInfo, error) {
	return f.containers, f.err
}

func (f *fakeLister) Health(context.Context) (*executor.EngineHealth, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &executor.EngineHealth{Healthy: true, Version: "28.5.2"}, nil
}

func newRouter(lister *fakeLister) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewStackHandler(lister, "a1", logger.NewNop()).Register(router)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListStacks(t *testing.T) {
	lister := &fakeLister{containers: []executor.ContainerInfo{
		{ID: "1", State: "running", Labels: map[string]string{"com.docker.compose.project": "web", "com.docker.compose.service": "nginx"}},
		{ID: "2", State: "exited", Labels: map[string]string{"com.docker.compose.project": "web", "com.docker.compose.service": "api"}},
	}}
	router := newRouter(lister)

	w := get(router, "/api/stacks")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool            `json:"success"`
		Data    []domains.Stack `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "web", body.Data[0].Name)
	assert.Equal(t, "a1", body.Data[0].AgentID)
	assert.Equal(t, domains.StackPartiallyRunning, body.Data[0].Status)

	assert.Equal(t, http.StatusOK, get(router, "/api/stacks/web").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/api/stacks/db").Code)
}

func TestListStacks_EngineDown(t *testing.T) {
	router := newRouter(&fakeLister{err: errors.New("cannot connect to the docker daemon")})

	assert.Equal(t, http.StatusBadGateway, get(router, "/api/stacks").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/health").Code)
}

func TestHealth(t *testing.T) {
	w := get(newRouter(&fakeLister{}), "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"28.5.2"`)
}
