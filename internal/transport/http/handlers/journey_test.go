package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rittima/CRM-Team-sub000/internal/app/server"
	"github.com/rittima/CRM-Team-sub000/internal/domain/auth"
	"github.com/rittima/CRM-Team-sub000/internal/domain/users"
	"github.com/rittima/CRM-Team-sub000/internal/platform/config"
)

const journeySecret = "journey-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func testConfig(driver string) config.Config {
	run := time.Now().UnixNano()
	return config.Config{
		Addr:               ":0",
		Environment:        "test",
		StoreDriver:        driver,
		DatabaseURL:        os.Getenv("TEST_DATABASE_URL"),
		MongoURI:           os.Getenv("TEST_MONGODB_URI"),
		MongoDatabase:      fmt.Sprintf("leave_journey_%d", run),
		JWTSecret:          journeySecret,
		RunMigrations:      true,
		RunSeed:            true,
		SeedHRID:           fmt.Sprintf("hr-%d", run),
		SeedHREmail:        fmt.Sprintf("hr-%d@example.com", run),
		SeedHRName:         "HR Admin",
		MaxBodyBytes:       1 << 20,
		RateLimitPerMinute: 10000,
		MetricsEnabled:     true,
	}
}

func TestLeaveJourneyPostgres(t *testing.T) {
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runLeaveJourney(t, testConfig(config.DriverPostgres))
}

func TestLeaveJourneyMongo(t *testing.T) {
	if os.Getenv("TEST_MONGODB_URI") == "" {
		t.Skip("TEST_MONGODB_URI not set")
	}
	runLeaveJourney(t, testConfig(config.DriverMongo))
}

// journeyWeek returns the Monday of the first full week two months ahead, so
// the requested days are always in the future and inside one month.
func journeyWeek() time.Time {
	now := time.Now().UTC()
	day := time.Date(now.Year(), now.Month()+2, 1, 0, 0, 0, 0, time.UTC)
	for day.Weekday() != time.Monday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func runLeaveJourney(t *testing.T, cfg config.Config) {
	ctx := context.Background()
	app, err := server.New(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	defer app.Close()

	ts := httptest.NewServer(app.Router)
	defer ts.Close()
	client := ts.Client()

	employeeID := fmt.Sprintf("emp-%d", time.Now().UnixNano())
	if err := app.Users.Upsert(ctx, users.User{ID: employeeID, Name: "Journey Employee", Email: employeeID + "@example.com", Role: auth.RoleEmployee}); err != nil {
		t.Fatalf("failed to create employee: %v", err)
	}
	employeeToken := mintToken(t, employeeID, auth.RoleEmployee)
	hrToken := mintToken(t, cfg.SeedHRID, auth.RoleHR)

	monday := journeyWeek()
	year, month := monday.Year(), int(monday.Month())
	day := func(offset int) string { return monday.AddDate(0, 0, offset).Format(time.DateOnly) }

	created := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/leaves", employeeToken, map[string]string{
		"leaveType": "Casual",
		"startDate": day(0),
		"endDate":   day(2),
		"reason":    "journey",
	}, http.StatusCreated)
	var apply struct {
		Leave struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			TotalDays int    `json:"totalDays"`
		} `json:"leave"`
	}
	decodeData(t, created, &apply)
	if apply.Leave.Status != "Pending" || apply.Leave.TotalDays != 3 {
		t.Fatalf("unexpected created leave: %+v", apply.Leave)
	}

	overlap := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/leaves", employeeToken, map[string]string{
		"leaveType": "Sick",
		"startDate": day(2),
		"endDate":   day(3),
	}, http.StatusBadRequest)
	if overlap.Error == nil || overlap.Error.Code != "leave_overlap" {
		t.Fatalf("expected leave_overlap, got %+v", overlap.Error)
	}

	tooMany := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/leaves", employeeToken, map[string]string{
		"leaveType": "Annual",
		"startDate": day(7),
		"endDate":   day(9),
	}, http.StatusBadRequest)
	if tooMany.Error == nil || tooMany.Error.Code != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %+v", tooMany.Error)
	}

	doJSON(t, client, http.MethodPatch, ts.URL+"/api/v1/leaves/"+apply.Leave.ID+"/review", hrToken, map[string]string{
		"status":     "Approved",
		"hrComments": "ok",
	}, http.StatusOK)

	allocURL := fmt.Sprintf("%s/api/v1/leaves/allocation?year=%d&month=%d", ts.URL, year, month)
	var view struct {
		Allocation struct {
			TotalAllocation int `json:"totalAllocation"`
			UsedLeaves      int `json:"usedLeaves"`
			PendingLeaves   int `json:"pendingLeaves"`
			RemainingLeaves int `json:"remainingLeaves"`
		} `json:"allocation"`
	}
	decodeData(t, doJSON(t, client, http.MethodGet, allocURL, employeeToken, nil, http.StatusOK), &view)
	if view.Allocation.UsedLeaves != 3 || view.Allocation.PendingLeaves != 0 || view.Allocation.RemainingLeaves != view.Allocation.TotalAllocation-3 {
		t.Fatalf("unexpected allocation after approval: %+v", view.Allocation)
	}

	// Reconciliation of a consistent month changes nothing.
	var summary struct {
		Checked   int `json:"checked"`
		Corrected int `json:"corrected"`
	}
	reconcileURL := fmt.Sprintf("%s/api/v1/leaves/reconcile?year=%d&month=%d", ts.URL, year, month)
	decodeData(t, doJSON(t, client, http.MethodPost, reconcileURL, hrToken, nil, http.StatusOK), &summary)
	if summary.Checked < 1 || summary.Corrected != 0 {
		t.Fatalf("unexpected reconcile summary: %+v", summary)
	}

	doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/leaves", employeeToken, nil, http.StatusForbidden)
	doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/leaves?userId="+employeeID, hrToken, nil, http.StatusOK)
}

func mintToken(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(journeySecret, auth.Claims{UserID: userID, RoleName: role}, time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any, want int) envelope {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, url, want, resp.StatusCode, string(raw))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}

func decodeData(t *testing.T, env envelope, out any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
}
