package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestInitLogger_Fields(t *testing.T) {
	InitLogger("info", false)

	var buf bytes.Buffer
	initLogger(&buf, "debug")
	defer initLogger(&bytes.Buffer{}, "info")

	logger := WithJobID("job-1")
	logger.Info().Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q", buf.String())
	}
	if entry["service"] != ServiceName {
		t.Errorf("Expected service field, got %v", entry["service"])
	}
	if entry["job_id"] != "job-1" {
		t.Errorf("Expected job_id field, got %v", entry["job_id"])
	}
	if entry["message"] != "hello" {
		t.Errorf("Expected message 'hello', got %v", entry["message"])
	}
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if status.Status != "healthy" || status.Service != ServiceName {
		t.Errorf("Unexpected health status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	failing := func(ctx context.Context) (bool, error) { return false, errors.New("missing api key") }

	tests := []struct {
		name       string
		checks     map[string]HealthCheckFunc
		wantCode   int
		wantStatus string
	}{
		{"all healthy", map[string]HealthCheckFunc{"soniox": ok, "storage": ok}, http.StatusOK, "ready"},
		{"one failing", map[string]HealthCheckFunc{"soniox": failing, "storage": ok}, http.StatusServiceUnavailable, "not_ready"},
		{"no checks", nil, http.StatusOK, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON content type, got %q", ct)
			}
			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("Expected %s, got %s", tt.wantStatus, status.Status)
			}
			if dep, found := status.Dependencies["soniox"]; found && dep.Status == "unhealthy" && dep.Message != "missing api key" {
				t.Errorf("Expected failure message, got %q", dep.Message)
			}
		})
	}
}

func TestSessionMetrics_EndOnce(t *testing.T) {
	before := testutil.ToFloat64(activeSessions)

	m := NewSessionMetrics("client-1", "soniox")
	m.RecordSessionStart()
	if got := testutil.ToFloat64(activeSessions); got != before+1 {
		t.Errorf("Expected active sessions %v, got %v", before+1, got)
	}

	m.RecordSessionEnd()
	m.RecordSessionEnd()
	if got := testutil.ToFloat64(activeSessions); got != before {
		t.Errorf("Expected active sessions back to %v, got %v", before, got)
	}
}

func TestSessionMetrics_Summary(t *testing.T) {
	m := NewSessionMetrics("client-2", "soniox")
	m.RecordPartial()
	m.RecordPartial()
	m.RecordFinal()
	m.RecordAudioBytes(128)

	partials, finals, audioBytes, _ := m.Summary()
	if partials != 2 || finals != 1 || audioBytes != 128 {
		t.Errorf("Unexpected summary %d/%d/%d", partials, finals, audioBytes)
	}
}

func TestRecordPersistenceFailure(t *testing.T) {
	before := testutil.ToFloat64(persistenceFailures.WithLabelValues("audio_write"))
	RecordPersistenceFailure("audio_write")
	if got := testutil.ToFloat64(persistenceFailures.WithLabelValues("audio_write")); got != before+1 {
		t.Errorf("Expected counter to increase by 1, got %v -> %v", before, got)
	}
}

func TestGRPCHealthServer(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	checks := map[string]HealthCheckFunc{
		"soniox": func(ctx context.Context) (bool, error) { return healthy.Load(), nil },
	}

	srv, err := NewGRPCHealthServer("0", checks)
	if err != nil {
		t.Fatalf("NewGRPCHealthServer() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Refresh(ctx)
	go srv.Serve(ctx, time.Hour)
	defer srv.Stop()

	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", srv.Addr().(*net.TCPAddr).Port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: "soniox"}, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %s", resp.Status)
	}

	healthy.Store(false)
	srv.Refresh(ctx)
	resp, err = client.Check(callCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING after failed check, got %s", resp.Status)
	}
}
