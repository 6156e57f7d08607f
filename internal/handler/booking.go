package handler

import (
    "context"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/token-queue/internal/middleware"
    "github.com/iliyamo/token-queue/internal/model"
    "github.com/iliyamo/token-queue/internal/scheduling"
)

// Engine is the part of the scheduling service the HTTP layer calls.
type Engine interface {
    CreateBooking(ctx context.Context, req scheduling.CreateBookingRequest) (*model.Booking, error)
    CancelBooking(ctx context.Context, id string, actor model.Actor) (*model.Booking, error)
    AdvanceBooking(ctx context.Context, id string, actor model.Actor, target model.Status) (*model.Booking, error)
    GetBooking(ctx context.Context, id string) (*model.Booking, error)
    ListSlots(ctx context.Context, businessID, departmentID, date string) ([]model.Slot, error)
    QueueSnapshot(ctx context.Context, unitID, slotID string) (*scheduling.Snapshot, error)
    QueueKey(ctx context.Context, unitID, slotID string) (model.QueueKey, error)
}

// Subscriber streams queue updates over a websocket.
type Subscriber interface {
    Serve(w http.ResponseWriter, r *http.Request, key model.QueueKey) error
}

// BookingHandler exposes the scheduling engine over HTTP.  Authentication
// is handled by middleware; the handler only reads the resulting actor.
type BookingHandler struct {
    Engine Engine
    Hub    Subscriber // nil disables the websocket endpoint
    Logger *zap.Logger
}

// NewBookingHandler constructs a BookingHandler.  engine must be non-nil.
func NewBookingHandler(engine Engine, hub Subscriber, logger *zap.Logger) *BookingHandler {
    if engine == nil {
        panic("nil engine passed to NewBookingHandler")
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    return &BookingHandler{Engine: engine, Hub: hub, Logger: logger}
}

type createBookingBody struct {
    Customer model.Customer          `json:"customer"`
    Notes    string                  `json:"notes"`
    Slot     *scheduling.SlotRequest `json:"slot"`
}

// CreateBooking handles POST /v1/businesses/:business/departments/:department/bookings.
// It returns 201 with the admitted booking, including its token, position
// and estimated wait.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
    var body createBookingBody
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    b, err := h.Engine.CreateBooking(c.Request().Context(), scheduling.CreateBookingRequest{
        BusinessID:   c.Param("business"),
        DepartmentID: c.Param("department"),
        Customer:     body.Customer,
        Notes:        body.Notes,
        Slot:         body.Slot,
    })
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusCreated, b)
}

// ListSlots handles GET /v1/businesses/:business/departments/:department/slots?date=YYYY-MM-DD.
func (h *BookingHandler) ListSlots(c echo.Context) error {
    date := strings.TrimSpace(c.QueryParam("date"))
    if date == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "date is required"})
    }
    slots, err := h.Engine.ListSlots(c.Request().Context(), c.Param("business"), c.Param("department"), date)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"date": date, "slots": slots})
}

// GetBooking handles GET /v1/bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
    b, err := h.Engine.GetBooking(c.Request().Context(), c.Param("id"))
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, b)
}

// CancelBooking handles POST /v1/bookings/:id/cancel.  Repeating the call
// on a cancelled booking returns the booking unchanged with 200.
func (h *BookingHandler) CancelBooking(c echo.Context) error {
    b, err := h.Engine.CancelBooking(c.Request().Context(), c.Param("id"), middleware.ActorFrom(c))
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, b)
}

// AdvanceBooking handles POST /v1/bookings/:id/advance with a body of
// {"status": "<target>"}.  Unknown statuses are rejected with 400 before
// they reach the engine.
func (h *BookingHandler) AdvanceBooking(c echo.Context) error {
    var body struct {
        Status string `json:"status"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    target, ok := model.ParseStatus(strings.TrimSpace(body.Status))
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status", "status": body.Status})
    }
    b, err := h.Engine.AdvanceBooking(c.Request().Context(), c.Param("id"), middleware.ActorFrom(c), target)
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, b)
}

// QueueSnapshot handles GET /v1/queues/:unit/snapshot?slot=<slot id>.
func (h *BookingHandler) QueueSnapshot(c echo.Context) error {
    snap, err := h.Engine.QueueSnapshot(c.Request().Context(), c.Param("unit"), c.QueryParam("slot"))
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    return c.JSON(http.StatusOK, snap)
}

// Watch handles GET /v1/queues/:unit/ws?slot=<slot id> by upgrading to a
// websocket that receives a snapshot after every change to the queue.
func (h *BookingHandler) Watch(c echo.Context) error {
    if h.Hub == nil {
        return c.JSON(http.StatusNotImplemented, echo.Map{"error": "realtime updates disabled"})
    }
    key, err := h.Engine.QueueKey(c.Request().Context(), c.Param("unit"), c.QueryParam("slot"))
    if err != nil {
        return writeError(c, h.Logger, err)
    }
    if err := h.Hub.Serve(c.Response(), c.Request(), key); err != nil {
        h.Logger.Debug("websocket upgrade failed", zap.Error(err))
    }
    return nil
}
