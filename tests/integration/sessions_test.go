//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/voxguard/guardian/internal/domain/session"
	"github.com/voxguard/guardian/internal/service"
)

func startSession(t *testing.T, id, roomName string) {
	t.Helper()
	err := testSessions.HandleStart(context.Background(), &session.StartEvent{
		SessionID: id,
		RoomName:  roomName,
	})
	if err != nil {
		t.Fatalf("start session %s: %v", id, err)
	}
}

func getJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(testServer.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func TestSessionLifecycleAPI(t *testing.T) {
	cleanDB(testPool)
	startSession(t, "it-s1", "it-room-1")

	var listed []session.Session
	if resp := getJSON(t, "/api/v1/guardian/sessions", &listed); resp.StatusCode != http.StatusOK {
		t.Fatalf("list sessions: %d", resp.StatusCode)
	}
	if len(listed) != 1 || listed[0].ID != "it-s1" {
		t.Fatalf("listed = %+v, want it-s1", listed)
	}

	ctx := context.Background()
	err := testSessions.HandleSentiment(ctx, &session.SentimentEvent{
		SessionID: "it-s1",
		Sentiment: -0.8,
		Text:      "this is a scam, I want my refund",
		Speaker:   "customer",
	})
	if err != nil {
		t.Fatalf("sentiment: %v", err)
	}

	var got session.Session
	if resp := getJSON(t, "/api/v1/guardian/sessions/it-s1", &got); resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: %d", resp.StatusCode)
	}
	if got.MaxRiskLevel == "LOW" {
		t.Errorf("risk level not raised after scam keyword: %s", got.MaxRiskLevel)
	}
	if got.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", got.MessageCount)
	}

	var events []session.Event
	if resp := getJSON(t, "/api/v1/guardian/sessions/it-s1/events", &events); resp.StatusCode != http.StatusOK {
		t.Fatalf("list events: %d", resp.StatusCode)
	}
	if len(events) == 0 {
		t.Error("expected at least one risk event")
	}
}

func TestDuplicateRoomRejected(t *testing.T) {
	cleanDB(testPool)
	startSession(t, "it-dup-1", "it-room-dup")

	// Same room, new session ID: insert must be silently dropped.
	err := testSessions.HandleStart(context.Background(), &session.StartEvent{
		SessionID: "it-dup-2",
		RoomName:  "it-room-dup",
	})
	if err != nil {
		t.Fatalf("duplicate start should be a no-op, got: %v", err)
	}

	var listed []session.Session
	getJSON(t, "/api/v1/guardian/sessions", &listed)
	if len(listed) != 1 {
		t.Fatalf("got %d sessions for one room, want 1", len(listed))
	}
}

func TestTakeoverAPI(t *testing.T) {
	cleanDB(testPool)
	startSession(t, "it-t1", "it-room-t1")

	resp, err := http.Post(testServer.URL+"/api/v1/guardian/sessions/it-t1/takeover", "application/json", http.NoBody)
	if err != nil {
		t.Fatalf("POST takeover: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("takeover status = %d", resp.StatusCode)
	}
	var result service.TakeoverResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode takeover result: %v", err)
	}
	if result.JoinToken == "" {
		t.Error("expected join token")
	}

	// Second takeover conflicts.
	resp2, err := http.Post(testServer.URL+"/api/v1/guardian/sessions/it-t1/takeover", "application/json", http.NoBody)
	if err != nil {
		t.Fatalf("POST takeover again: %v", err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("second takeover = %d, want 409", resp2.StatusCode)
	}

	// Release returns the session to active AI control.
	req, _ := http.NewRequest(http.MethodDelete, testServer.URL+"/api/v1/guardian/sessions/it-t1/takeover", http.NoBody)
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE takeover: %v", err)
	}
	defer func() { _ = resp3.Body.Close() }()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("release status = %d", resp3.StatusCode)
	}
	var released session.Session
	if err := json.NewDecoder(resp3.Body).Decode(&released); err != nil {
		t.Fatalf("decode released session: %v", err)
	}
	if released.Status != session.StatusActive || released.EndedAt != nil {
		t.Errorf("released session = %+v, want active and not ended", released)
	}
}

func TestGuardianConfigAPI(t *testing.T) {
	cleanDB(testPool)

	var cfg struct {
		Config struct {
			CriticalKeywords []string `json:"critical_keywords"`
		} `json:"config"`
	}
	if resp := getJSON(t, "/api/v1/guardian/config", &cfg); resp.StatusCode != http.StatusOK {
		t.Fatalf("get config: %d", resp.StatusCode)
	}
	if len(cfg.Config.CriticalKeywords) == 0 {
		t.Error("default config missing critical keywords")
	}

	body := bytes.NewBufferString(`{"critical_keywords":["emergency"],"high_risk_keywords":[],"medium_risk_keywords":[],"positive_keywords":[],"auto_handoff_threshold":-0.4,"positive_alert_threshold":0.8}`)
	req, _ := http.NewRequest(http.MethodPut, testServer.URL+"/api/v1/guardian/config", body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT config: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update config = %d", resp.StatusCode)
	}
}

func TestStatsAPI(t *testing.T) {
	cleanDB(testPool)
	startSession(t, "it-st1", "it-room-st1")
	startSession(t, "it-st2", "it-room-st2")

	var stats session.Stats
	if resp := getJSON(t, "/api/v1/guardian/stats", &stats); resp.StatusCode != http.StatusOK {
		t.Fatalf("get stats: %d", resp.StatusCode)
	}
	if stats.ActiveSessions != 2 {
		t.Errorf("active sessions = %d, want 2", stats.ActiveSessions)
	}
}
