package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/korjavin/familyorganizer/pkg/api"
	"github.com/korjavin/familyorganizer/pkg/clock"
	"github.com/korjavin/familyorganizer/pkg/cooking"
	"github.com/korjavin/familyorganizer/pkg/directory"
	"github.com/korjavin/familyorganizer/pkg/models"
	"github.com/korjavin/familyorganizer/pkg/planner"
	"github.com/korjavin/familyorganizer/pkg/scheduler"
	"github.com/korjavin/familyorganizer/pkg/scheduler/schedulertest"
	"github.com/korjavin/familyorganizer/pkg/storage"
	"github.com/korjavin/familyorganizer/pkg/water"
)

var testNow = time.Date(2024, time.May, 10, 9, 15, 0, 0, time.UTC)

type stubSuggester struct {
	steps []string
	err   error
	dish  string
}

func (s *stubSuggester) RecipeSteps(ctx context.Context, dish string) ([]string, error) {
	s.dish = dish
	return s.steps, s.err
}

type testServer struct {
	handler http.Handler
	gateway *schedulertest.Recorder
	store   *storage.Store
}

type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stateEnvelope struct {
	State cooking.State `json:"state"`
}

func setupTestServer(t *testing.T, permission scheduler.Permission, suggester api.RecipeSuggester) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	birth := time.Date(1985, time.March, 3, 0, 0, 0, 0, time.UTC)
	members := directory.Static{
		{ID: "m1", Name: "Ayse", BirthDate: &birth},
		{ID: "m2", Name: "Guest"},
	}

	gw := schedulertest.NewRecorder(permission)
	clk := clock.NewFake(testNow)
	waterScheduler := water.New(gw, store, members, clk, planner.DefaultWakeHour)
	sequencer := cooking.NewSequencer(gw, store, clk, nil)
	t.Cleanup(func() {
		_ = sequencer.Stop(context.Background())
		_ = store.Close()
	})

	waterHandler := api.NewWaterHandler(waterScheduler, members)
	cookingHandler := api.NewCookingHandler(sequencer, suggester)

	return &testServer{
		handler: api.NewRouter(waterHandler, cookingHandler, []string{"http://localhost:5173"}),
		gateway: gw,
		store:   store,
	}
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)
	status, body := requestJSON(t, srv.handler, http.MethodGet, "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/cooking/start", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	recorder := httptest.NewRecorder()
	srv.handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestWaterRemindersFlow(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)

	status, body := requestJSON(t, srv.handler, http.MethodPost, "/api/water/reminders", map[string]bool{"enabled": true})
	if status != http.StatusOK {
		t.Fatalf("enable failed with %d: %s", status, body)
	}
	var enabled struct {
		Scheduled int `json:"scheduled"`
	}
	if err := json.Unmarshal(body, &enabled); err != nil {
		t.Fatalf("unmarshal enable response: %v", err)
	}
	if enabled.Scheduled != 49 || srv.gateway.Live() != 49 {
		t.Fatalf("expected 49 notifications for the one planned member, got %d (live %d)", enabled.Scheduled, srv.gateway.Live())
	}

	ack := map[string]interface{}{"slot": "08:00", "amountMl": 300}
	for i := 0; i < 2; i++ {
		status, body = requestJSON(t, srv.handler, http.MethodPost, "/api/water/members/m1/ack", ack)
		if status != http.StatusOK {
			t.Fatalf("ack failed with %d: %s", status, body)
		}
	}
	if intake := todayIntake(t, srv, "m1"); intake != 300 {
		t.Fatalf("repeated ack should count once, got %d", intake)
	}
	if srv.gateway.Live() != 49 {
		t.Fatalf("ack must not cancel recurring notifications, live=%d", srv.gateway.Live())
	}

	status, body = requestJSON(t, srv.handler, http.MethodGet, "/api/water/members", nil)
	if status != http.StatusOK {
		t.Fatalf("list failed with %d: %s", status, body)
	}
	var list struct {
		Members []struct {
			ID            string             `json:"id"`
			DailyNeedMl   int                `json:"dailyNeedMl"`
			Slots         []models.WaterSlot `json:"slots"`
			Enabled       bool               `json:"enabled"`
			IntakeTodayMl int                `json:"intakeTodayMl"`
		} `json:"members"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal members: %v", err)
	}
	if len(list.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(list.Members))
	}
	m1, m2 := list.Members[0], list.Members[1]
	if !m1.Enabled || m1.DailyNeedMl != planner.AdultDefaultMl || len(m1.Slots) != 7 || m1.IntakeTodayMl != 300 {
		t.Fatalf("unexpected m1 view %+v", m1)
	}
	if m2.Enabled || m2.DailyNeedMl != 0 || len(m2.Slots) != 0 {
		t.Fatalf("member without birth date should have no plan, got %+v", m2)
	}

	status, body = requestJSON(t, srv.handler, http.MethodPost, "/api/water/reminders", map[string]bool{"enabled": false})
	if status != http.StatusOK {
		t.Fatalf("disable failed with %d: %s", status, body)
	}
	if srv.gateway.Live() != 0 {
		t.Fatalf("expected every reminder cancelled, live=%d", srv.gateway.Live())
	}
}

func TestWaterRemindersPermissionDenied(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionDenied, nil)

	status, body := requestJSON(t, srv.handler, http.MethodPost, "/api/water/reminders", map[string]bool{"enabled": true})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", status, body)
	}
	if code := errorCode(t, body); code != "notification_permission_denied" {
		t.Fatalf("unexpected error code %q", code)
	}
	if srv.gateway.Live() != 0 {
		t.Fatalf("nothing should be scheduled")
	}
}

func TestWaterRejectsBadRequests(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)

	status, body := requestJSON(t, srv.handler, http.MethodPost, "/api/water/reminders", map[string]string{})
	if status != http.StatusBadRequest || errorCode(t, body) != "invalid_enabled" {
		t.Fatalf("expected invalid_enabled, got %d: %s", status, body)
	}

	status, body = requestJSON(t, srv.handler, http.MethodPost, "/api/water/members/m1/ack", map[string]string{"slot": "noon"})
	if status != http.StatusBadRequest || errorCode(t, body) != "invalid_slot" {
		t.Fatalf("expected invalid_slot, got %d: %s", status, body)
	}

	status, body = requestJSON(t, srv.handler, http.MethodPost, "/api/water/members/m1/ack", nil)
	if status != http.StatusBadRequest || errorCode(t, body) != "invalid_json" {
		t.Fatalf("expected invalid_json, got %d: %s", status, body)
	}
}

func TestWaterUnknownMember(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)

	status, body := requestJSON(t, srv.handler, http.MethodPost, "/api/water/members/nobody/ack", map[string]interface{}{"slot": "08:00", "amountMl": 300})
	if status != http.StatusNotFound || errorCode(t, body) != "member_not_found" {
		t.Fatalf("expected 404 member_not_found, got %d: %s", status, body)
	}
	if _, ok, _ := srv.store.Get(water.IntakeKey("nobody", clock.DateKey(testNow))); ok {
		t.Fatalf("no intake should be recorded for an unknown member")
	}

	status, body = requestJSON(t, srv.handler, http.MethodGet, "/api/water/members/nobody/today", nil)
	if status != http.StatusNotFound || errorCode(t, body) != "member_not_found" {
		t.Fatalf("expected 404 member_not_found, got %d: %s", status, body)
	}
}

func TestPutMemberOnReadOnlyDirectory(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)

	status, body := requestJSON(t, srv.handler, http.MethodPut, "/api/water/members/m3", map[string]string{"name": "Can"})
	if status != http.StatusMethodNotAllowed || errorCode(t, body) != "members_read_only" {
		t.Fatalf("expected 405 members_read_only, got %d: %s", status, body)
	}
}

func TestPutMemberThenAcknowledge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	members, err := directory.OpenSQLite(filepath.Join(t.TempDir(), "family.db"))
	if err != nil {
		t.Fatalf("open directory: %v", err)
	}
	t.Cleanup(func() {
		_ = members.Close()
		_ = store.Close()
	})

	gw := schedulertest.NewRecorder(scheduler.PermissionGranted)
	clk := clock.NewFake(testNow)
	waterHandler := api.NewWaterHandler(water.New(gw, store, members, clk, planner.DefaultWakeHour), members)
	cookingHandler := api.NewCookingHandler(cooking.NewSequencer(gw, store, clk, nil), nil)
	handler := api.NewRouter(waterHandler, cookingHandler, nil)

	ack := map[string]interface{}{"slot": "08:00", "amountMl": 250}
	if status, body := requestJSON(t, handler, http.MethodPost, "/api/water/members/m3/ack", ack); status != http.StatusNotFound {
		t.Fatalf("expected 404 before the member exists, got %d: %s", status, body)
	}

	bad := []struct {
		body interface{}
		code string
	}{
		{map[string]string{}, "invalid_name"},
		{map[string]string{"name": "Can", "birthDate": "02/03/1990"}, "invalid_birth_date"},
		{map[string]interface{}{"name": "Can", "weightKg": -4}, "invalid_weight"},
	}
	for _, tt := range bad {
		status, body := requestJSON(t, handler, http.MethodPut, "/api/water/members/m3", tt.body)
		if status != http.StatusBadRequest || errorCode(t, body) != tt.code {
			t.Fatalf("expected 400 %s, got %d: %s", tt.code, status, body)
		}
	}

	member := map[string]interface{}{"name": "Can", "birthDate": "1990-03-02", "weightKg": 80}
	if status, body := requestJSON(t, handler, http.MethodPut, "/api/water/members/m3", member); status != http.StatusOK {
		t.Fatalf("put member failed with %d: %s", status, body)
	}
	stored, err := members.Get(context.Background(), "m3")
	if err != nil || stored.Name != "Can" || stored.BirthDate == nil || stored.WeightKg == nil || *stored.WeightKg != 80 {
		t.Fatalf("unexpected stored member %+v err=%v", stored, err)
	}

	if status, body := requestJSON(t, handler, http.MethodPost, "/api/water/members/m3/ack", ack); status != http.StatusOK {
		t.Fatalf("ack failed with %d: %s", status, body)
	}
	status, body := requestJSON(t, handler, http.MethodGet, "/api/water/members/m3/today", nil)
	if status != http.StatusOK {
		t.Fatalf("today failed with %d: %s", status, body)
	}
	var resp struct {
		IntakeTodayMl int `json:"intakeTodayMl"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.IntakeTodayMl != 250 {
		t.Fatalf("expected 250 ml, got %s err=%v", body, err)
	}
}

func TestCookingSessionFlow(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)

	status, body := requestJSON(t, srv.handler, http.MethodPost, "/api/cooking/recipe", map[string]string{"text": "Boil 10 min\nServe 2 min"})
	if status != http.StatusOK {
		t.Fatalf("set recipe failed with %d: %s", status, body)
	}
	var recipe struct {
		Steps []models.Step `json:"steps"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(body, &recipe); err != nil {
		t.Fatalf("unmarshal recipe: %v", err)
	}
	if len(recipe.Steps) != 2 || recipe.Total != 720 {
		t.Fatalf("unexpected recipe %+v", recipe)
	}

	state := cookingState(t, srv, http.MethodPost, "/api/cooking/start")
	if !state.Active || state.StepIndex != 0 || state.StepRemaining != 600 || state.Total != 720 {
		t.Fatalf("unexpected started state %+v", state)
	}
	if srv.gateway.Live() != 2 {
		t.Fatalf("expected step and completion notifications, live=%d", srv.gateway.Live())
	}

	status, body = requestJSON(t, srv.handler, http.MethodPost, "/api/cooking/recipe", map[string]string{"text": "Other 5 min"})
	if status != http.StatusConflict || errorCode(t, body) != "session_active" {
		t.Fatalf("expected 409 session_active, got %d: %s", status, body)
	}

	state = cookingState(t, srv, http.MethodPost, "/api/cooking/stop")
	if state.Active {
		t.Fatalf("expected stopped session, got %+v", state)
	}
	if srv.gateway.Live() != 0 {
		t.Fatalf("expected notifications cancelled, live=%d", srv.gateway.Live())
	}

	state = cookingState(t, srv, http.MethodGet, "/api/cooking/state")
	if state.Active || state.Total != 720 {
		t.Fatalf("unexpected idle state %+v", state)
	}
}

func TestCookingRestoreEndpoint(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)

	status, body := requestJSON(t, srv.handler, http.MethodPost, "/api/cooking/recipe", map[string]string{"text": "Boil 10 min\nServe 2 min"})
	if status != http.StatusOK {
		t.Fatalf("set recipe failed with %d: %s", status, body)
	}
	startAt := testNow.Add(-11 * time.Minute).UnixMilli()
	if err := srv.store.Set(cooking.SessionKey, `{"active":true,"startAt":`+strconv.FormatInt(startAt, 10)+`}`); err != nil {
		t.Fatalf("persist session: %v", err)
	}

	status, body = requestJSON(t, srv.handler, http.MethodPost, "/api/cooking/restore", nil)
	if status != http.StatusOK {
		t.Fatalf("restore failed with %d: %s", status, body)
	}
	var resp struct {
		Restored bool          `json:"restored"`
		State    cooking.State `json:"state"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal restore: %v", err)
	}
	if !resp.Restored || resp.State.StepIndex != 1 || resp.State.StepRemaining != 60 {
		t.Fatalf("unexpected restore response %+v", resp)
	}
}

func TestCookingRecipeFromDish(t *testing.T) {
	suggester := &stubSuggester{steps: []string{"Chop 5 min", "Fry 15 min"}}
	srv := setupTestServer(t, scheduler.PermissionGranted, suggester)

	status, body := requestJSON(t, srv.handler, http.MethodPost, "/api/cooking/recipe", map[string]string{"dish": "menemen"})
	if status != http.StatusOK {
		t.Fatalf("set recipe failed with %d: %s", status, body)
	}
	if suggester.dish != "menemen" {
		t.Fatalf("suggester not asked for the dish, got %q", suggester.dish)
	}
	var recipe struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &recipe); err != nil {
		t.Fatalf("unmarshal recipe: %v", err)
	}
	if recipe.Total != 20*60 {
		t.Fatalf("expected 1200s, got %d", recipe.Total)
	}

	suggester.err = errors.New("upstream down")
	status, body = requestJSON(t, srv.handler, http.MethodPost, "/api/cooking/recipe", map[string]string{"dish": "pilav"})
	if status != http.StatusBadGateway || errorCode(t, body) != "suggestion_failed" {
		t.Fatalf("expected 502 suggestion_failed, got %d: %s", status, body)
	}
}

func TestCookingRecipeFromDishWithoutSuggester(t *testing.T) {
	srv := setupTestServer(t, scheduler.PermissionGranted, nil)

	status, body := requestJSON(t, srv.handler, http.MethodPost, "/api/cooking/recipe", map[string]string{"dish": "menemen"})
	if status != http.StatusServiceUnavailable || errorCode(t, body) != "suggestions_disabled" {
		t.Fatalf("expected 503 suggestions_disabled, got %d: %s", status, body)
	}
}

func todayIntake(t *testing.T, srv *testServer, memberID string) int {
	t.Helper()
	status, body := requestJSON(t, srv.handler, http.MethodGet, "/api/water/members/"+memberID+"/today", nil)
	if status != http.StatusOK {
		t.Fatalf("today failed with %d: %s", status, body)
	}
	var resp struct {
		IntakeTodayMl int `json:"intakeTodayMl"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal today: %v", err)
	}
	return resp.IntakeTodayMl
}

func cookingState(t *testing.T, srv *testServer, method, path string) cooking.State {
	t.Helper()
	status, body := requestJSON(t, srv.handler, method, path, nil)
	if status != http.StatusOK {
		t.Fatalf("%s %s failed with %d: %s", method, path, status, body)
	}
	var resp stateEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return resp.State
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp apiErrorEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	return resp.Error.Code
}

func requestJSON(t *testing.T, server http.Handler, method, path string, body interface{}) (int, []byte) {
	t.Helper()

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		payload = raw
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, req)
	return recorder.Code, recorder.Body.Bytes()
}
