package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeLifecycleRunner struct {
	ranRuleID int64
	err       error
}

func (f *fakeLifecycleRunner) RunRule(ctx context.Context, ruleID int64) error {
	f.ranRuleID = ruleID
	return f.err
}

type fakeMigrationRequeuer struct {
	requeuedTaskID int64
	err            error
}

func (f *fakeMigrationRequeuer) Requeue(ctx context.Context, taskID int64) error {
	f.requeuedTaskID = taskID
	return f.err
}

func TestRunLifecycleRuleInvokesRunnerWithPathID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runner := &fakeLifecycleRunner{}
	a := &API{Lifecycle: runner}

	r := gin.New()
	r.POST("/lifecycle-rules/:ruleID/run", a.RunLifecycleRule)

	req := httptest.NewRequest(http.MethodPost, "/lifecycle-rules/42/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if runner.ranRuleID != 42 {
		t.Fatalf("ranRuleID = %d, want 42", runner.ranRuleID)
	}
}

func TestRunLifecycleRuleRejectsNonNumericID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := &API{Lifecycle: &fakeLifecycleRunner{}}

	r := gin.New()
	r.POST("/lifecycle-rules/:ruleID/run", a.RunLifecycleRule)

	req := httptest.NewRequest(http.MethodPost, "/lifecycle-rules/not-a-number/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for invalid rule id", w.Code)
	}
}

func TestRunLifecycleRuleFailsClosedWhenEngineUnwired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := &API{}

	r := gin.New()
	r.POST("/lifecycle-rules/:ruleID/run", a.RunLifecycleRule)

	req := httptest.NewRequest(http.MethodPost, "/lifecycle-rules/1/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when no lifecycle engine is wired", w.Code)
	}
}

func TestRequeueMigrationTaskInvokesRequeuerWithPathID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	requeuer := &fakeMigrationRequeuer{}
	a := &API{Migrations: requeuer}

	r := gin.New()
	r.POST("/migration-tasks/:taskID/requeue", a.RequeueMigrationTask)

	req := httptest.NewRequest(http.MethodPost, "/migration-tasks/99/requeue", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if requeuer.requeuedTaskID != 99 {
		t.Fatalf("requeuedTaskID = %d, want 99", requeuer.requeuedTaskID)
	}
}
