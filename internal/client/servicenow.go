// 외부 ServiceNow Table API와 통신하는 클라이언트 정의
// incident 테이블에 대한 조회/생성/해결/재오픈과 재시도 정책을 담당
//
// 멱등성:
//   - 생성 전에 correlation_id로 열린 incident를 먼저 조회 (check-then-act)
//   - 같은 전이에 대한 중복 호출이 티켓을 두 개 만들지 않도록 함
//
// 재시도 분류:
//   - 연결 오류 / 타임아웃 / 5xx / 408: 지수 백오프 + 지터로 재시도
//   - 429: Retry-After 헤더를 우선 반영
//   - 401/403 및 그 외 4xx: 재시도 없이 ErrPermanent로 반환

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kube-rca/snow-bridge/internal/config"
)

// ErrPermanent - 자동 재시도 대상이 아닌 다운스트림 오류 (자격증명, 요청 불량)
var ErrPermanent = errors.New("permanent ticketing failure")

// ServiceNow incident 상태 코드 (6=Resolved, 7=Closed, 2=In Progress)
const (
	snowStateInProgress = "2"
	snowStateResolved   = "6"
	snowStateClosed     = "7"
)

// ServiceNowClient 구조체 정의
type ServiceNowClient struct {
	instanceURL    string
	username       string
	password       string
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// IncidentRequest - 티켓 생성 요청 (정규화된 이벤트에서 추출)
type IncidentRequest struct {
	Summary       string
	Description   string
	Severity      string
	CorrelationID string
}

// IncidentRef - 생성/조회된 incident 참조
type IncidentRef struct {
	SysID  string
	Number string
}

// Table API 응답 구조체
type incidentRecord struct {
	SysID  string `json:"sys_id"`
	Number string `json:"number"`
	State  string `json:"state"`
}

type incidentMutationResponse struct {
	Result incidentRecord `json:"result"`
}

type incidentQueryResponse struct {
	Result []incidentRecord `json:"result"`
}

// ServiceNowClient 객체 생성
func NewServiceNowClient(snow config.ServiceNowConfig, retry config.RetryConfig) *ServiceNowClient {
	transport := http.DefaultTransport
	if snow.InsecureSkipVerify {
		// 사설 인증서를 쓰는 내부 인스턴스용 토글
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &ServiceNowClient{
		instanceURL:    snow.InstanceURL,
		username:       snow.Username,
		password:       snow.Password,
		maxAttempts:    retry.MaxAttempts,
		initialBackoff: retry.InitialBackoff,
		maxBackoff:     retry.MaxBackoff,
		httpClient: &http.Client{
			Timeout:   retry.RequestTimeout,
			Transport: transport,
		},
	}
}

// FindOpenIncident - correlation_id로 아직 닫히지 않은 incident 조회
// 없으면 (nil, nil)
func (c *ServiceNowClient) FindOpenIncident(ctx context.Context, correlationID string) (*IncidentRef, error) {
	q := url.Values{}
	q.Set("sysparm_query", fmt.Sprintf("correlation_id=%s^state!=%s^state!=%s", correlationID, snowStateResolved, snowStateClosed))
	q.Set("sysparm_fields", "sys_id,number,state")
	q.Set("sysparm_limit", "1")

	body, err := c.do(ctx, http.MethodGet, "/api/now/table/incident?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp incidentQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse incident query response: %w", err)
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	return &IncidentRef{SysID: resp.Result[0].SysID, Number: resp.Result[0].Number}, nil
}

// CreateIncident - incident 생성
// 같은 correlation_id의 열린 incident가 이미 있으면 그 참조를 그대로 반환 (멱등 보장)
func (c *ServiceNowClient) CreateIncident(ctx context.Context, req IncidentRequest) (*IncidentRef, error) {
	existing, err := c.FindOpenIncident(ctx, req.CorrelationID)
	if err != nil {
		if errors.Is(err, ErrPermanent) {
			// 자격증명 불량이면 생성 호출도 같은 이유로 실패함
			return nil, err
		}
		// 일시적인 조회 실패는 생성을 막지 않음, 서버 측 correlation_id 중복 방지에 의존
		log.Printf("Failed to query existing incident (correlation_id=%s): %v", req.CorrelationID, err)
	}
	if existing != nil {
		log.Printf("Adopting existing open incident (correlation_id=%s, number=%s)", req.CorrelationID, existing.Number)
		return existing, nil
	}

	sev := snowSeverity(req.Severity)
	payload := map[string]string{
		"short_description": req.Summary,
		"description":       req.Description,
		"severity":          sev,
		"urgency":           sev,
		"impact":            sev,
		"correlation_id":    req.CorrelationID,
	}

	body, err := c.do(ctx, http.MethodPost, "/api/now/table/incident", payload)
	if err != nil {
		return nil, err
	}

	var resp incidentMutationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse incident create response: %w", err)
	}
	if resp.Result.SysID == "" {
		return nil, fmt.Errorf("incident create response missing sys_id")
	}
	return &IncidentRef{SysID: resp.Result.SysID, Number: resp.Result.Number}, nil
}

// ResolveIncident - incident를 Resolved(6) 상태로 전환
// 이미 해결된 incident에 다시 호출해도 서버가 거부하지 않으므로 재시도에 안전
func (c *ServiceNowClient) ResolveIncident(ctx context.Context, sysID, note string) error {
	payload := map[string]string{
		"state":       snowStateResolved,
		"close_code":  "Resolved by caller",
		"close_notes": note,
	}
	_, err := c.do(ctx, http.MethodPatch, "/api/now/table/incident/"+sysID, payload)
	return err
}

// ReopenIncident - 해결된 incident를 In Progress(2)로 되돌림 (reopen 정책용)
func (c *ServiceNowClient) ReopenIncident(ctx context.Context, sysID, note string) error {
	payload := map[string]string{
		"state":      snowStateInProgress,
		"work_notes": note,
	}
	_, err := c.do(ctx, http.MethodPatch, "/api/now/table/incident/"+sysID, payload)
	return err
}

// do - 재시도 정책을 적용한 단일 API 호출
func (c *ServiceNowClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, retryAfter, err := c.doOnce(ctx, method, path, payload)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrPermanent) {
			return nil, err
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		delay := c.backoff(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		log.Printf("ServiceNow request failed, retrying (method=%s, path=%s, attempt=%d/%d, delay=%s): %v",
			method, path, attempt, c.maxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("servicenow %s %s canceled during backoff: %w", method, path, ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("servicenow %s %s failed after %d attempts: %w", method, path, c.maxAttempts, lastErr)
}

// doOnce - 1회 요청 수행, Retry-After 힌트가 있으면 함께 반환
func (c *ServiceNowClient) doOnce(ctx context.Context, method, path string, payload any) ([]byte, time.Duration, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.instanceURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 연결 오류/타임아웃은 일시 오류로 분류
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("rate limited: status=%d", resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return nil, 0, fmt.Errorf("transient server error: status=%d body=%s", resp.StatusCode, truncate(body, 200))
	default:
		// 401/403 및 나머지 4xx: 자격증명 또는 요청 자체의 문제, 재시도 무의미
		return nil, 0, fmt.Errorf("status=%d body=%s: %w", resp.StatusCode, truncate(body, 200), ErrPermanent)
	}
}

// backoff - attempt번째 실패 후 대기 시간 (지수 증가 + 지터)
func (c *ServiceNowClient) backoff(attempt int) time.Duration {
	delay := c.initialBackoff << (attempt - 1)
	if delay > c.maxBackoff || delay <= 0 {
		delay = c.maxBackoff
	}
	// 절반은 고정, 절반은 무작위 (동시 재시도 몰림 방지)
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// parseRetryAfter - Retry-After 헤더 해석 (초 단위 또는 HTTP-date)
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// snowSeverity - Alertmanager severity 라벨을 SNOW 값으로 변환
// (1 critical, 2 high, 3 moderate)
func snowSeverity(severity string) string {
	switch severity {
	case "critical":
		return "1"
	case "warning":
		return "2"
	case "info":
		return "3"
	default:
		return "3"
	}
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
