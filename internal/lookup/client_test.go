package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"warden/internal/database"
	"warden/internal/domain"
	"warden/internal/engine"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLookupEngine(t *testing.T) *engine.Engine {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.BlockedIP{},
		&domain.TrustedIP{},
		&domain.ProvisionalIP{},
		&domain.MigrationLog{},
		&domain.TrustedRange{},
		&domain.QuotaCounter{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	eng := engine.New(engine.Config{ReadyTimeout: 100 * time.Millisecond})
	eng.AttachStore(database.NewStore(db))
	return eng
}

func reputationServer(t *testing.T, score int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Key") != "test-key" {
			t.Errorf("missing Key header")
		}
		ip := r.URL.Query().Get("ipAddress")
		if ip == "" {
			t.Errorf("missing ipAddress parameter")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"ipAddress":%q,"abuseConfidenceScore":%d,"countryCode":"NL","isp":"Example Hosting","domain":"example.net","usageType":"Data Center/Web Hosting/Transit","isTor":false,"numDistinctUsers":7}}`, ip, score)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCheckParsesResponse(t *testing.T) {
	eng := setupLookupEngine(t)
	server := reputationServer(t, 42)

	client := NewClient(eng, server.URL, "test-key")
	result, err := client.Check(context.Background(), "203.0.113.5")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}

	if result.IP != "203.0.113.5" || result.Score != 42 {
		t.Fatalf("result = %+v, want ip 203.0.113.5 score 42", result)
	}
	if result.Meta.Country != "NL" || result.Meta.ISP != "Example Hosting" {
		t.Fatalf("meta = %+v", result.Meta)
	}
	if result.Meta.DistinctUsers != 7 {
		t.Fatalf("distinct users = %d, want 7", result.Meta.DistinctUsers)
	}
}

func TestCheckRejectsInvalidAddress(t *testing.T) {
	eng := setupLookupEngine(t)
	client := NewClient(eng, "http://unused.invalid", "test-key")

	if _, err := client.Check(context.Background(), "not-an-ip"); err == nil {
		t.Fatal("invalid address accepted")
	}
}

func TestCheckChargesQuota(t *testing.T) {
	eng := setupLookupEngine(t)
	ctx := context.Background()

	if err := eng.InitQuota(ctx, map[string]int{"check": 2}); err != nil {
		t.Fatalf("InitQuota returned error: %v", err)
	}

	server := reputationServer(t, 42)
	client := NewClient(eng, server.URL, "test-key")

	for i := 0; i < 2; i++ {
		if _, err := client.Check(ctx, "203.0.113.5"); err != nil {
			t.Fatalf("Check #%d returned error: %v", i+1, err)
		}
	}

	if _, err := client.Check(ctx, "203.0.113.5"); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("error = %v, want ErrQuotaExhausted", err)
	}

	stats := eng.QuotaStats(ctx)["check"]
	if stats.Used != 2 || stats.Remaining != 0 {
		t.Fatalf("quota stats = %+v, want used 2 remaining 0", stats)
	}
}

func TestEvaluateBlocksHighScore(t *testing.T) {
	eng := setupLookupEngine(t)
	server := reputationServer(t, 90)

	client := NewClient(eng, server.URL, "test-key")
	tier, err := client.Evaluate(context.Background(), "203.0.113.5")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if tier != domain.TierBlocked {
		t.Fatalf("tier = %s, want blocked", tier)
	}
	if !eng.IsBlocked(context.Background(), "203.0.113.5") {
		t.Fatal("high-score IP not blocked")
	}
}

func TestEvaluateTrustsLowScore(t *testing.T) {
	eng := setupLookupEngine(t)
	server := reputationServer(t, 5)

	client := NewClient(eng, server.URL, "test-key")
	tier, err := client.Evaluate(context.Background(), "203.0.113.6")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if tier != domain.TierTrusted {
		t.Fatalf("tier = %s, want trusted", tier)
	}

	status := eng.IsTrusted(context.Background(), "203.0.113.6")
	if !status.Active || status.Confidence != 5 {
		t.Fatalf("status = %+v, want active with confidence 5", status)
	}
}

func TestEvaluateFlagsMidScore(t *testing.T) {
	eng := setupLookupEngine(t)
	server := reputationServer(t, 50)

	client := NewClient(eng, server.URL, "test-key")
	tier, err := client.Evaluate(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if tier != domain.TierProvisional {
		t.Fatalf("tier = %s, want provisional", tier)
	}
}

func TestEvaluateCustomThresholds(t *testing.T) {
	eng := setupLookupEngine(t)
	server := reputationServer(t, 60)

	client := NewClient(eng, server.URL, "test-key", WithThresholds(60, 10))
	tier, err := client.Evaluate(context.Background(), "203.0.113.8")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if tier != domain.TierBlocked {
		t.Fatalf("tier = %s, want blocked at lowered threshold", tier)
	}
}

func TestCheckSurfacesServerErrors(t *testing.T) {
	eng := setupLookupEngine(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"detail":"unauthorized"}]}`, http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := NewClient(eng, server.URL, "bad-key")
	if _, err := client.Check(context.Background(), "203.0.113.5"); err == nil {
		t.Fatal("server error not surfaced")
	}
}
