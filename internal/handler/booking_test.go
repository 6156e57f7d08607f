package handler

import (
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/token-queue/internal/clock"
    "github.com/iliyamo/token-queue/internal/middleware"
    "github.com/iliyamo/token-queue/internal/model"
    "github.com/iliyamo/token-queue/internal/repository"
    "github.com/iliyamo/token-queue/internal/scheduling"
    "github.com/iliyamo/token-queue/internal/utils"
)

const secret = "handler-secret"

type testServer struct {
    e *echo.Echo
}

func newTestServer(t *testing.T) *testServer {
    t.Helper()
    store := repository.NewMemoryStore()
    require.NoError(t, store.PutUnit(model.CapacityUnit{
        ID: "desk", BusinessID: "b1", DepartmentID: "front", Mode: model.ModeLive,
        Capacity: 1, AverageServiceMinutes: 10, AutoApprove: true, Active: true,
    }))
    require.NoError(t, store.PutUnit(model.CapacityUnit{
        ID: "consult", BusinessID: "b1", DepartmentID: "consult", Mode: model.ModeSlotted,
        Capacity: 2, SlotDurationMinutes: 30, AverageServiceMinutes: 15, Active: true,
        Window: model.OperatingWindow{time.Monday: {OpenMinute: 9 * 60, CloseMinute: 11 * 60}},
    }))

    // Monday 2026-10-19 08:00 UTC.
    now := clock.NewManual(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
    svc := scheduling.New(store, nil, nil, now, scheduling.Config{}, nil)
    h := NewBookingHandler(svc, nil, nil)

    e := echo.New()
    pub := e.Group("/v1", middleware.JWTAuth(secret, true))
    pub.POST("/businesses/:business/departments/:department/bookings", h.CreateBooking)
    pub.GET("/businesses/:business/departments/:department/slots", h.ListSlots)
    pub.GET("/bookings/:id", h.GetBooking)
    pub.POST("/bookings/:id/cancel", h.CancelBooking)
    pub.GET("/queues/:unit/snapshot", h.QueueSnapshot)
    pub.GET("/queues/:unit/ws", h.Watch)
    pub.POST("/bookings/:id/advance", h.AdvanceBooking)
    return &testServer{e: e}
}

func staffToken(t *testing.T) string {
    t.Helper()
    tok, err := utils.NewAccessToken(secret, "staff-1", "business", time.Hour)
    require.NoError(t, err)
    return tok.Token
}

func (s *testServer) call(method, path, body, token string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(method, path, strings.NewReader(body))
    if body != "" {
        req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    }
    if token != "" {
        req.Header.Set("Authorization", "Bearer "+token)
    }
    rec := httptest.NewRecorder()
    s.e.ServeHTTP(rec, req)
    return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
    t.Helper()
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
    var body map[string]interface{}
    decode(t, rec, &body)
    code, _ := body["error"].(string)
    return code
}

const liveBookings = "/v1/businesses/b1/departments/front/bookings"

func TestCreateBookingAndFullQueue(t *testing.T) {
    s := newTestServer(t)

    rec := s.call(http.MethodPost, liveBookings, `{"customer":{"name":"Ana","phone":"+15550100"}}`, "")
    require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
    var b model.Booking
    decode(t, rec, &b)
    assert.Equal(t, 1, b.Token)
    assert.Equal(t, model.StatusConfirmed, b.Status)
    assert.Equal(t, 1, b.Position)

    rec = s.call(http.MethodPost, liveBookings, `{"customer":{"name":"Ben","phone":"+15550101"}}`, "")
    assert.Equal(t, http.StatusConflict, rec.Code)
    assert.Equal(t, "fully_booked", errorCode(t, rec))

    rec = s.call(http.MethodGet, "/v1/bookings/"+b.ID, "", "")
    assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateBookingValidation(t *testing.T) {
    s := newTestServer(t)

    rec := s.call(http.MethodPost, liveBookings, `{"customer":{"name":"  "}}`, "")
    assert.Equal(t, http.StatusBadRequest, rec.Code)
    assert.Equal(t, "invalid_request", errorCode(t, rec))

    rec = s.call(http.MethodPost, "/v1/businesses/b1/departments/nope/bookings", `{"customer":{"name":"A","phone":"1"}}`, "")
    assert.Equal(t, http.StatusNotFound, rec.Code)

    slotted := "/v1/businesses/b1/departments/consult/bookings"
    rec = s.call(http.MethodPost, slotted, `{"customer":{"name":"A","phone":"1"},"slot":{"date":"2026-10-19","time":"09:10"}}`, "")
    assert.Equal(t, http.StatusBadRequest, rec.Code)
    assert.Equal(t, "invalid_slot", errorCode(t, rec))

    rec = s.call(http.MethodPost, slotted, `{"customer":{"name":"A","phone":"1"},"slot":{"date":"2026-10-19","time":"12:00"}}`, "")
    assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
    assert.Equal(t, "closed", errorCode(t, rec))

    rec = s.call(http.MethodPost, slotted, `{"customer":{"name":"A","phone":"1"},"slot":{"date":"2026-10-19","time":"09:30"}}`, "")
    require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
    var b model.Booking
    decode(t, rec, &b)
    assert.Equal(t, "2026-10-19T09:30", b.SlotID)
    assert.Equal(t, model.StatusPending, b.Status)
}

func TestListSlots(t *testing.T) {
    s := newTestServer(t)

    rec := s.call(http.MethodGet, "/v1/businesses/b1/departments/consult/slots", "", "")
    assert.Equal(t, http.StatusBadRequest, rec.Code)

    rec = s.call(http.MethodGet, "/v1/businesses/b1/departments/consult/slots?date=2026-10-19", "", "")
    require.Equal(t, http.StatusOK, rec.Code)
    var body struct {
        Date  string       `json:"date"`
        Slots []model.Slot `json:"slots"`
    }
    decode(t, rec, &body)
    assert.Equal(t, "2026-10-19", body.Date)
    assert.Len(t, body.Slots, 4)
}

func TestAdvanceAndCancel(t *testing.T) {
    s := newTestServer(t)
    rec := s.call(http.MethodPost, liveBookings, `{"customer":{"name":"Ana","phone":"+15550100"}}`, "")
    require.Equal(t, http.StatusCreated, rec.Code)
    var b model.Booking
    decode(t, rec, &b)
    advance := "/v1/bookings/" + b.ID + "/advance"

    rec = s.call(http.MethodPost, advance, `{"status":"checked-in"}`, "")
    assert.Equal(t, http.StatusConflict, rec.Code, "anonymous callers act as customers")
    assert.Equal(t, "invalid_transition", errorCode(t, rec))

    rec = s.call(http.MethodPost, advance, `{"status":"teleported"}`, staffToken(t))
    assert.Equal(t, http.StatusBadRequest, rec.Code)

    rec = s.call(http.MethodPost, advance, `{"status":"completed"}`, staffToken(t))
    assert.Equal(t, http.StatusConflict, rec.Code)
    var conflict map[string]string
    decode(t, rec, &conflict)
    assert.Equal(t, "confirmed", conflict["from"])
    assert.Equal(t, "completed", conflict["to"])

    staff := staffToken(t)
    for _, next := range []string{"checked-in", "in-progress", "completed"} {
        rec = s.call(http.MethodPost, advance, `{"status":"`+next+`"}`, staff)
        require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
    }
    rec = s.call(http.MethodPost, "/v1/bookings/"+b.ID+"/cancel", "", "")
    assert.Equal(t, http.StatusConflict, rec.Code, "completed bookings cannot be cancelled")

    // Completion freed the only place in the queue.
    rec = s.call(http.MethodPost, liveBookings, `{"customer":{"name":"Ben","phone":"+15550101"}}`, "")
    require.Equal(t, http.StatusCreated, rec.Code)
    decode(t, rec, &b)
    assert.Equal(t, 2, b.Token)

    cancel := "/v1/bookings/" + b.ID + "/cancel"
    rec = s.call(http.MethodPost, cancel, "", "")
    require.Equal(t, http.StatusOK, rec.Code)
    b = model.Booking{}
    decode(t, rec, &b)
    assert.Equal(t, model.StatusCancelled, b.Status)
    assert.Zero(t, b.Position)

    rec = s.call(http.MethodPost, cancel, "", "")
    assert.Equal(t, http.StatusOK, rec.Code, "cancel is idempotent")

    rec = s.call(http.MethodPost, "/v1/bookings/missing/cancel", "", "")
    assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueSnapshotAndWatch(t *testing.T) {
    s := newTestServer(t)
    rec := s.call(http.MethodPost, liveBookings, `{"customer":{"name":"Ana","phone":"+15550100"}}`, "")
    require.Equal(t, http.StatusCreated, rec.Code)

    rec = s.call(http.MethodGet, "/v1/queues/desk/snapshot", "", "")
    require.Equal(t, http.StatusOK, rec.Code)
    var snap scheduling.Snapshot
    decode(t, rec, &snap)
    assert.Equal(t, "desk", snap.Key.UnitID)
    assert.Empty(t, snap.Key.Day, "a live snapshot spans operating days")
    require.Len(t, snap.Entries, 1)
    assert.Equal(t, 1, snap.Entries[0].Position)

    rec = s.call(http.MethodGet, "/v1/queues/consult/snapshot?slot=2026-10-19T09:15", "", "")
    assert.Equal(t, http.StatusBadRequest, rec.Code)

    rec = s.call(http.MethodGet, "/v1/queues/desk/ws", "", "")
    assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
