package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"kaspi_dumping_v1/internal/controller"
	"kaspi_dumping_v1/internal/service"
)

type stubTasks struct{}

func (stubTasks) Status() map[string]bool { return map[string]bool{"reconcile": true} }
func (stubTasks) TriggerReconcile() error { return nil }

func (stubTasks) TriggerMerchantReconcile(context.Context, int64) (*service.ReconcileReport, error) {
	return &service.ReconcileReport{}, nil
}

func (stubTasks) TriggerMerchantSync(_ context.Context, id int64) (*service.SyncReport, error) {
	return &service.SyncReport{MerchantID: id}, nil
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	InitRoutes(r, controller.NewOpsController(stubTasks{}))
	return r
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestInitRoutes(t *testing.T) {
	r := newTestEngine()

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/tasks").Code)

	w := serve(r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}

func TestInitRoutes_ManualTriggersAreRateLimited(t *testing.T) {
	r := newTestEngine()

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/api/merchants/101/reconcile").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/api/merchants/101/reconcile").Code)

	// 对账和同步分开计数
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/api/merchants/101/sync").Code)

	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/api/tasks/reconcile").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/api/tasks/reconcile").Code)
}
