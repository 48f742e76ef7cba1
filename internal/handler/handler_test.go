package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/handler"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/notify"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/policy"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/service"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/testutil"
)

type api struct {
	router http.Handler
	rec    *notify.Recorder
}

func newAPI(t *testing.T) api {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.OpenTestStore(t)
	rec := &notify.Recorder{}
	clock := testutil.NewClock()
	svc := service.New(store, rec, service.Config{
		Policy: policy.Default(),
		Clock:  clock.Now,
		Logger: logger,
	})
	return api{
		router: handler.NewRouter(handler.NewSlotHandler(svc, logger), logger),
		rec:    rec,
	}
}

func (a api) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func (a api) createSlot(t *testing.T, capacity int) model.Slot {
	t.Helper()

	w := a.do(t, http.MethodPost, "/slots", model.CreateSlotRequest{
		Date:      "2026-03-16",
		StartTime: "14:00",
		EndTime:   "15:30",
		Building:  "Engineering",
		Room:      "E-101",
		Capacity:  capacity,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create slot status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body)
	}
	return decode[model.Slot](t, w)
}

func registerBody(presenterID string) model.RegisterRequest {
	return model.RegisterRequest{PresenterID: presenterID, Details: testutil.Details(model.DegreePhD)}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	a := newAPI(t)
	w := a.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("cors header = %q, want *", got)
	}
}

func TestRegisterApproveFlow(t *testing.T) {
	t.Parallel()

	a := newAPI(t)
	slot := a.createSlot(t, 1)

	w := a.do(t, http.MethodPost, "/slots/"+slot.ID+"/registrations", registerBody("alice"))
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body)
	}
	reg := decode[model.Registration](t, w)
	if reg.Status != model.StatusPending {
		t.Fatalf("status = %v, want %v", reg.Status, model.StatusPending)
	}

	w = a.do(t, http.MethodGet, "/slots/"+slot.ID, nil)
	view := decode[model.SlotView](t, w)
	if view.State != model.SlotFull {
		t.Fatalf("slot state = %v, want %v", view.State, model.SlotFull)
	}

	msg, ok := a.rec.LastApprovalRequest()
	if !ok {
		t.Fatal("expected approval request")
	}
	w = a.do(t, http.MethodGet, msg.ApproveURL, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve status = %d, want %d: %s", w.Code, http.StatusOK, w.Body)
	}
	if got := decode[model.Registration](t, w); got.Status != model.StatusApproved {
		t.Fatalf("status = %v, want %v", got.Status, model.StatusApproved)
	}

	w = a.do(t, http.MethodGet, msg.ApproveURL, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second approve status = %d, want %d", w.Code, http.StatusConflict)
	}
	if got := decode[model.ErrorResponse](t, w); got.Code != apperr.ErrTokenAlreadyUsed.Code {
		t.Fatalf("code = %q, want %q", got.Code, apperr.ErrTokenAlreadyUsed.Code)
	}
}

func TestDeclineWithReason(t *testing.T) {
	t.Parallel()

	a := newAPI(t)
	slot := a.createSlot(t, 2)
	a.do(t, http.MethodPost, "/slots/"+slot.ID+"/registrations", registerBody("alice"))
	msg, ok := a.rec.LastApprovalRequest()
	if !ok {
		t.Fatal("expected approval request")
	}

	w := a.do(t, http.MethodPost, msg.DeclineURL, model.DeclineRequest{Reason: "topic overlaps"})
	if w.Code != http.StatusOK {
		t.Fatalf("decline status = %d, want %d: %s", w.Code, http.StatusOK, w.Body)
	}
	reg := decode[model.Registration](t, w)
	if reg.Status != model.StatusDeclined || reg.DeclineReason != "topic overlaps" {
		t.Fatalf("registration = %v/%q, want DECLINED/topic overlaps", reg.Status, reg.DeclineReason)
	}
}

func TestWaitingListEndpoints(t *testing.T) {
	t.Parallel()

	a := newAPI(t)
	slot := a.createSlot(t, 1)
	a.do(t, http.MethodPost, "/slots/"+slot.ID+"/registrations", registerBody("alice"))

	w := a.do(t, http.MethodPost, "/slots/"+slot.ID+"/registrations", registerBody("bob"))
	if w.Code != http.StatusConflict {
		t.Fatalf("register on full slot status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = a.do(t, http.MethodPost, "/slots/"+slot.ID+"/waiting-list", registerBody("bob"))
	if w.Code != http.StatusCreated {
		t.Fatalf("join status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body)
	}
	if entry := decode[model.WaitingListEntry](t, w); entry.Position != 1 {
		t.Fatalf("position = %d, want 1", entry.Position)
	}

	w = a.do(t, http.MethodDelete, "/slots/"+slot.ID+"/registrations/alice", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want %d: %s", w.Code, http.StatusNoContent, w.Body)
	}

	w = a.do(t, http.MethodGet, "/slots/"+slot.ID+"/waiting-list", nil)
	if entries := decode[[]model.WaitingListEntry](t, w); len(entries) != 0 {
		t.Fatalf("waiting list = %v, want empty after promotion", entries)
	}
	if _, ok := a.rec.LastPromotionOffer(); !ok {
		t.Fatal("expected promotion offer")
	}

	w = a.do(t, http.MethodDelete, "/slots/"+slot.ID+"/waiting-list/bob", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("leave status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestErrorStatuses(t *testing.T) {
	t.Parallel()

	a := newAPI(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown slot", http.MethodGet, "/slots/missing", nil, http.StatusNotFound},
		{"unknown token", http.MethodGet, "/approvals/nope/approve", nil, http.StatusNotFound},
		{"bad body", http.MethodPost, "/slots", map[string]any{"unknown": true}, http.StatusBadRequest},
		{"bad capacity", http.MethodPost, "/slots", model.CreateSlotRequest{Date: "2026-03-16", StartTime: "14:00", EndTime: "15:00", Capacity: 0}, http.StatusBadRequest},
		{"empty list", http.MethodGet, "/slots", nil, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, tc.method, tc.path, tc.body)
			if w.Code != tc.want {
				t.Fatalf("%s %s status = %d, want %d: %s", tc.method, tc.path, w.Code, tc.want, w.Body)
			}
		})
	}
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrPendingLimit, http.StatusBadRequest},
		{apperr.ErrSlotFull, http.StatusConflict},
		{fmt.Errorf("%w: lost race", apperr.ErrCapacityConflict), http.StatusConflict},
		{apperr.ErrTokenExpired, http.StatusGone},
		{apperr.ErrTokenAlreadyUsed, http.StatusConflict},
		{apperr.ErrRegistrationNotFound, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := handler.StatusOf(tc.err); got != tc.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
