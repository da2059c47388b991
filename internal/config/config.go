// 환경변수 기반 설정 로더
//
// ServiceNow 자격증명과 인스턴스 URL은 외부 시크릿 제공자가
// 컨테이너 환경변수로 주입한다는 전제 (프로세스 시작 시 1회 읽기)
//
// 환경변수:
//   - HTTP_ADDR: 리슨 주소 (default: :8080)
//   - SERVICENOW_INSTANCE_URL: ServiceNow 인스턴스 URL (필수)
//   - SERVICENOW_USERNAME / SERVICENOW_PASSWORD: Basic Auth 자격증명 (필수)
//   - SERVICENOW_TLS_SKIP_VERIFY: TLS 검증 생략 여부 (default: false)
//   - SNOW_RETRY_MAX_ATTEMPTS: 티켓 API 재시도 횟수 (default: 5)
//   - SNOW_RETRY_INITIAL_BACKOFF / SNOW_RETRY_MAX_BACKOFF: 백오프 구간
//   - SNOW_REQUEST_TIMEOUT: 티켓 API 요청당 타임아웃 (default: 10s)
//   - SNOW_REOPEN_POLICY: 재발화 시 정책 new|reopen (default: new)
//   - EVENT_TIMEOUT: 알림 1건 처리 타임아웃 (default: 2m)
//   - SWEEP_INTERVAL / SWEEP_GRACE_PERIOD: 백그라운드 재시도 스윕 주기/유예
//   - STORE_BACKEND: 바인딩 저장소 memory|postgres (default: memory)
//   - DATABASE_URL 또는 PGHOST/PGPORT/PGUSER/PGPASSWORD/PGDATABASE/PGSSLMODE

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reopen 정책: 재발화된 조건에 새 티켓을 만들지, 닫힌 티켓을 다시 열지
const (
	ReopenPolicyNew    = "new"
	ReopenPolicyReopen = "reopen"
)

// 바인딩 저장소 백엔드
const (
	StoreBackendMemory   = "memory"
	StoreBackendPostgres = "postgres"
)

type Config struct {
	HTTP       HTTPConfig
	ServiceNow ServiceNowConfig
	Retry      RetryConfig
	Reconciler ReconcilerConfig
	Sweep      SweepConfig
	Store      StoreConfig
	Postgres   PostgresConfig
}

type HTTPConfig struct {
	Addr string
}

type ServiceNowConfig struct {
	InstanceURL        string
	Username           string
	Password           string
	InsecureSkipVerify bool
}

type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
}

type ReconcilerConfig struct {
	ReopenPolicy string
	EventTimeout time.Duration
}

type SweepConfig struct {
	Interval    time.Duration
	GracePeriod time.Duration
}

type StoreConfig struct {
	Backend string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

func Load() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr: getenv("HTTP_ADDR", ":8080"),
		},
		ServiceNow: ServiceNowConfig{
			InstanceURL:        strings.TrimRight(os.Getenv("SERVICENOW_INSTANCE_URL"), "/"),
			Username:           os.Getenv("SERVICENOW_USERNAME"),
			Password:           os.Getenv("SERVICENOW_PASSWORD"),
			InsecureSkipVerify: getenvBool("SERVICENOW_TLS_SKIP_VERIFY", false),
		},
		Retry: RetryConfig{
			MaxAttempts:    getenvInt("SNOW_RETRY_MAX_ATTEMPTS", 5),
			InitialBackoff: getenvDuration("SNOW_RETRY_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     getenvDuration("SNOW_RETRY_MAX_BACKOFF", 30*time.Second),
			RequestTimeout: getenvDuration("SNOW_REQUEST_TIMEOUT", 10*time.Second),
		},
		Reconciler: ReconcilerConfig{
			ReopenPolicy: getenv("SNOW_REOPEN_POLICY", ReopenPolicyNew),
			EventTimeout: getenvDuration("EVENT_TIMEOUT", 2*time.Minute),
		},
		Sweep: SweepConfig{
			Interval:    getenvDuration("SWEEP_INTERVAL", 30*time.Second),
			GracePeriod: getenvDuration("SWEEP_GRACE_PERIOD", time.Minute),
		},
		Store: StoreConfig{
			Backend: getenv("STORE_BACKEND", StoreBackendMemory),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
	}
}

// Validate - 기동 전에 필수 설정 확인
// 설정 불량은 요청 시점이 아니라 기동 실패로 처리
func (c Config) Validate() error {
	if c.ServiceNow.InstanceURL == "" || c.ServiceNow.Username == "" || c.ServiceNow.Password == "" {
		return fmt.Errorf("missing required env: SERVICENOW_INSTANCE_URL, SERVICENOW_USERNAME, SERVICENOW_PASSWORD")
	}
	switch c.Reconciler.ReopenPolicy {
	case ReopenPolicyNew, ReopenPolicyReopen:
	default:
		return fmt.Errorf("invalid SNOW_REOPEN_POLICY: %q (want %q or %q)", c.Reconciler.ReopenPolicy, ReopenPolicyNew, ReopenPolicyReopen)
	}
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendPostgres:
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %q (want %q or %q)", c.Store.Backend, StoreBackendMemory, StoreBackendPostgres)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("SNOW_RETRY_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
