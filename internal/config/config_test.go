package config

import (
	"net/netip"
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.SessionCookieName != "session_id" {
		t.Errorf("SessionCookieName = %q, want %q", cfg.SessionCookieName, "session_id")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.JobDispatch != DispatchLocal {
		t.Errorf("JobDispatch = %q, want %q", cfg.JobDispatch, DispatchLocal)
	}
	if cfg.JobWorkers != 4 {
		t.Errorf("JobWorkers = %d, want 4", cfg.JobWorkers)
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("DeepgramModel = %q, want %q", cfg.DeepgramModel, "nova-2")
	}
	if cfg.SessionTTL() != 0 {
		t.Errorf("SessionTTL = %v, want 0 (no expiry)", cfg.SessionTTL())
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled should default to true")
	}
	if got := cfg.ResolvedSessionStore(); got != StoreMemory {
		t.Errorf("ResolvedSessionStore = %q, want %q", got, StoreMemory)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("BCRYPT_COST", "14")
	os.Setenv("JOB_WORKERS", "8")
	os.Setenv("SESSION_TTL", "24h")
	os.Setenv("COOKIE_SECURE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.JobWorkers != 8 {
		t.Errorf("JobWorkers = %d, want 8", cfg.JobWorkers)
	}
	if cfg.SessionTTL() != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL())
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should be true")
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestLoad_SessionStore(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		want    string
		wantErr string
	}{
		{"auto picks redis", map[string]string{"REDIS_ADDR": "localhost:6379", "DATABASE_URL": "postgres://x"}, StoreRedis, ""},
		{"auto picks postgres", map[string]string{"DATABASE_URL": "postgres://x"}, StorePostgres, ""},
		{"explicit memory", map[string]string{"SESSION_STORE": "memory", "DATABASE_URL": "postgres://x"}, StoreMemory, ""},
		{"postgres without dsn", map[string]string{"SESSION_STORE": "postgres"}, "", "config: SESSION_STORE=postgres requires DATABASE_URL"},
		{"redis without addr", map[string]string{"SESSION_STORE": "redis"}, "", "config: SESSION_STORE=redis requires REDIS_ADDR"},
		{"unknown", map[string]string{"SESSION_STORE": "etcd"}, "", "config: SESSION_STORE must be one of auto, memory, postgres, redis"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			cfg, err := Load()
			if tc.wantErr != "" {
				if err == nil {
					t.Fatal("Load should return error")
				}
				if err.Error() != tc.wantErr {
					t.Errorf("error = %q, want %q", err.Error(), tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := cfg.ResolvedSessionStore(); got != tc.want {
				t.Errorf("ResolvedSessionStore = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoad_KafkaDispatchRequirements(t *testing.T) {
	os.Clearenv()
	os.Setenv("JOB_DISPATCH", "kafka")
	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without KAFKA_BROKERS")
	}

	os.Setenv("KAFKA_BROKERS", "localhost:9092")
	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without DATABASE_URL")
	}

	os.Setenv("DATABASE_URL", "postgres://localhost/stt")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JobDispatch != DispatchKafka {
		t.Errorf("JobDispatch = %q, want %q", cfg.JobDispatch, DispatchKafka)
	}
}

func TestLoad_InvalidSessionTTL(t *testing.T) {
	os.Clearenv()
	os.Setenv("SESSION_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject an unparsable SESSION_TTL")
	}
}

func TestDurations_FallBackOnInvalid(t *testing.T) {
	cfg := &Config{JobTimeoutRaw: "invalid", S3PresignTTLRaw: "-1m", SessionTTLRaw: "nope"}
	if cfg.JobTimeout() != 5*time.Minute {
		t.Errorf("JobTimeout = %v, want 5m", cfg.JobTimeout())
	}
	if cfg.S3PresignTTL() != 15*time.Minute {
		t.Errorf("S3PresignTTL = %v, want 15m", cfg.S3PresignTTL())
	}
	if cfg.SessionTTL() != 0 {
		t.Errorf("SessionTTL = %v, want 0", cfg.SessionTTL())
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cfg := &Config{KafkaBrokers: " a:9092, ,b:9092 "}
	want := []string{"a:9092", "b:9092"}
	if got := cfg.KafkaBrokersList(); !reflect.DeepEqual(got, want) {
		t.Errorf("KafkaBrokersList = %v, want %v", got, want)
	}
	var nilCfg *Config
	if got := nilCfg.KafkaBrokersList(); got != nil {
		t.Errorf("nil config KafkaBrokersList = %v, want nil", got)
	}
}

func TestAudioBlockedHostsList(t *testing.T) {
	cfg := &Config{AudioBlockedHosts: "Internal.Example.COM,169.254.169.254"}
	want := []string{"internal.example.com", "169.254.169.254"}
	if got := cfg.AudioBlockedHostsList(); !reflect.DeepEqual(got, want) {
		t.Errorf("AudioBlockedHostsList = %v, want %v", got, want)
	}
}

func TestTrustedProxiesList(t *testing.T) {
	cfg := &Config{TrustedProxies: "10.0.0.0/8, 192.0.2.7,::1"}
	want := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("::1/128"),
	}
	if got := cfg.TrustedProxiesList(); !reflect.DeepEqual(got, want) {
		t.Errorf("TrustedProxiesList = %v, want %v", got, want)
	}
	if got := (&Config{}).TrustedProxiesList(); got != nil {
		t.Errorf("empty TrustedProxiesList = %v, want nil", got)
	}
}

func TestLoad_InvalidTrustedProxies(t *testing.T) {
	os.Clearenv()
	os.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject an invalid TRUSTED_PROXIES entry")
	}
}
