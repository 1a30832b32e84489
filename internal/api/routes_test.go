package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupRoutes_JobSubroutes(t *testing.T) {
	jobs := newTestJobsHandler(&fakeOrchestrator{})
	chat := NewChatHandler(nil, nil)
	mux := setupRoutes(jobs, chat)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-7", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_Health(t *testing.T) {
	jobs := newTestJobsHandler(&fakeOrchestrator{})
	chat := NewChatHandler(nil, nil)
	mux := setupRoutes(jobs, chat)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
