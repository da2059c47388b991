package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kube-rca/snow-bridge/internal/config"
)

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}
}

func newTestClient(serverURL string) *ServiceNowClient {
	return NewServiceNowClient(config.ServiceNowConfig{
		InstanceURL: serverURL,
		Username:    "bridge",
		Password:    "secret",
	}, testRetryConfig())
}

func TestCreateIncident(t *testing.T) {
	var creates int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "bridge" || pass != "secret" {
			t.Errorf("missing or wrong basic auth: %s/%s", user, pass)
		}
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(incidentQueryResponse{})
		case http.MethodPost:
			atomic.AddInt32(&creates, 1)
			var payload map[string]string
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["correlation_id"] != "default:DiskFull" {
				t.Errorf("correlation_id = %q", payload["correlation_id"])
			}
			if payload["severity"] != "1" || payload["urgency"] != "1" {
				t.Errorf("severity mapping wrong: %+v", payload)
			}
			json.NewEncoder(w).Encode(incidentMutationResponse{
				Result: incidentRecord{SysID: "abc123", Number: "INC0001"},
			})
		}
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).CreateIncident(context.Background(), IncidentRequest{
		Summary:       "Disk full",
		Description:   "Disk is full\nNamespace: default",
		Severity:      "critical",
		CorrelationID: "default:DiskFull",
	})
	if err != nil {
		t.Fatalf("CreateIncident() error = %v", err)
	}
	if ref.SysID != "abc123" || ref.Number != "INC0001" {
		t.Fatalf("CreateIncident() = %+v", ref)
	}
	if n := atomic.LoadInt32(&creates); n != 1 {
		t.Fatalf("create calls = %d, want 1", n)
	}
}

// 같은 correlation_id의 열린 incident가 있으면 생성 대신 채택
func TestCreateIncidentAdoptsExisting(t *testing.T) {
	var creates int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(incidentQueryResponse{
				Result: []incidentRecord{{SysID: "prior", Number: "INC0042", State: "2"}},
			})
		case http.MethodPost:
			atomic.AddInt32(&creates, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).CreateIncident(context.Background(), IncidentRequest{
		CorrelationID: "default:DiskFull",
	})
	if err != nil {
		t.Fatalf("CreateIncident() error = %v", err)
	}
	if ref.SysID != "prior" {
		t.Fatalf("CreateIncident() = %+v, want adopted sys_id=prior", ref)
	}
	if atomic.LoadInt32(&creates) != 0 {
		t.Fatal("create was called despite existing open incident")
	}
}

// 503이 두 번 나오고 세 번째에 성공하면 시도 횟수는 정확히 3이어야 함
func TestCreateIncidentRetriesTransient(t *testing.T) {
	var creates int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(incidentQueryResponse{})
		case http.MethodPost:
			if atomic.AddInt32(&creates, 1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(incidentMutationResponse{
				Result: incidentRecord{SysID: "abc123", Number: "INC0002"},
			})
		}
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).CreateIncident(context.Background(), IncidentRequest{CorrelationID: "k"})
	if err != nil {
		t.Fatalf("CreateIncident() error = %v", err)
	}
	if ref.SysID != "abc123" {
		t.Fatalf("CreateIncident() = %+v", ref)
	}
	if n := atomic.LoadInt32(&creates); n != 3 {
		t.Fatalf("create attempts = %d, want 3", n)
	}
}

// 401은 재시도 없이 ErrPermanent로 반환
func TestCreateIncidentPermanentFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateIncident(context.Background(), IncidentRequest{CorrelationID: "k"})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("CreateIncident() error = %v, want ErrPermanent", err)
	}
	// GET 조회 1회 + POST 없음: 401은 조회 단계에서 이미 영구 오류
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("total calls = %d, want 1", n)
	}
}

func TestResolveIncident(t *testing.T) {
	var gotState, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		gotPath = r.URL.Path
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		gotState = payload["state"]
		json.NewEncoder(w).Encode(incidentMutationResponse{Result: incidentRecord{SysID: "abc123"}})
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).ResolveIncident(context.Background(), "abc123", "condition resolved"); err != nil {
		t.Fatalf("ResolveIncident() error = %v", err)
	}
	if gotPath != "/api/now/table/incident/abc123" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotState != snowStateResolved {
		t.Fatalf("state = %s, want %s", gotState, snowStateResolved)
	}
}

// 429의 Retry-After 힌트가 백오프보다 우선
func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(incidentQueryResponse{})
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestClient(srv.URL).FindOpenIncident(context.Background(), "k")
	if err != nil {
		t.Fatalf("FindOpenIncident() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("retried after %s, expected to wait for Retry-After of 1s", elapsed)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"0", 0},
		{"not-a-number", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// Retry-After는 초 단위 외에 HTTP-date 형식으로도 올 수 있음
func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	if got <= 0 || got > 3*time.Second {
		t.Fatalf("parseRetryAfter(%q) = %s, want within (0, 3s]", future, got)
	}

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(past); got != 0 {
		t.Fatalf("parseRetryAfter(past date) = %s, want 0", got)
	}
}

func TestSnowSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"critical", "1"},
		{"warning", "2"},
		{"info", "3"},
		{"", "3"},
		{"page", "3"},
	}
	for _, tt := range tests {
		if got := snowSeverity(tt.in); got != tt.want {
			t.Errorf("snowSeverity(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
