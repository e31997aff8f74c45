package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafe-orders/internal/domain"
	"cafe-orders/internal/middleware"
	"cafe-orders/internal/notify"
	"cafe-orders/internal/repo"
	"cafe-orders/internal/service"
)

const staffSecret = "staff-secret"

type fakeOrders struct {
	submitted *domain.Submission
	submitErr error
	order     *domain.Order
	getErr    error
	listed    repo.ListFilter
	quoted    domain.QuoteRequest
	quoteErr  error
}

func (f *fakeOrders) Submit(_ context.Context, sub *domain.Submission) (*domain.Order, error) {
	f.submitted = sub
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.order, nil
}

func (f *fakeOrders) Quote(_ context.Context, req domain.QuoteRequest) (*domain.DeliveryQuote, error) {
	f.quoted = req
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &domain.DeliveryQuote{QuotationID: "Q-1", Price: decimal.RequireFromString("58.50"), Currency: "PHP"}, nil
}

func (f *fakeOrders) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.order, nil
}

func (f *fakeOrders) List(_ context.Context, filter repo.ListFilter) ([]domain.Order, error) {
	f.listed = filter
	return nil, nil
}

func (f *fakeOrders) History(_ context.Context, id uuid.UUID) ([]domain.StatusChange, error) {
	return []domain.StatusChange{{To: domain.OrderPending, ChangedBy: "ip:192.0.2.1"}}, nil
}

type fakeStatus struct {
	last    domain.Transition
	err     error
	results []service.TransitionResult
}

func (f *fakeStatus) Transition(_ context.Context, id uuid.UUID, t domain.Transition) (*domain.Order, error) {
	f.last = t
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Order{ID: id, Status: t.To}, nil
}

func (f *fakeStatus) TransitionMany(_ context.Context, ids []uuid.UUID, t domain.Transition) ([]service.TransitionResult, error) {
	f.last = t
	return f.results, f.err
}

type fakeHealth map[string]string

func (f fakeHealth) Health(context.Context) map[string]string { return f }

type apiHarness struct {
	orders *fakeOrders
	status *fakeStatus
	hub    *notify.Hub
	router *gin.Engine
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()

	h := &apiHarness{
		orders: &fakeOrders{order: &domain.Order{ID: uuid.New(), OrderNumber: "ORD-20261018-0001", Status: domain.OrderPending}},
		status: &fakeStatus{},
		hub:    notify.NewHub(),
	}
	r, err := NewRouter(Deps{
		Orders:         h.orders,
		Status:         h.status,
		Hub:            h.hub,
		Health:         fakeHealth{"status": "up"},
		Log:            logger,
		StaffJWTSecret: staffSecret,
		AllowedOrigins: []string{"*"},
		Heartbeat:      time.Hour,
	})
	require.NoError(t, err)
	h.router = r
	return h
}

func staffToken(t *testing.T) string {
	t.Helper()
	tok, err := middleware.IssueToken(staffSecret, "alice", middleware.RoleStaff, time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

func (h *apiHarness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const shakeOrder = `{
	"cart": [{"name": "Shake", "quantity": 2, "unitPrice": "120"}],
	"customer": {"name": "Ana", "contact": "09171234567"},
	"serviceType": "dine-in",
	"payment": {"method": "cash"}
}`

func TestSubmitUsesSocketAddressAndSessionToken(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(http.MethodPost, "/api/orders", shakeOrder, map[string]string{
		HeaderSessionToken: "S1",
		"X-Forwarded-For":  "203.0.113.9",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sub := h.orders.submitted
	require.NotNil(t, sub)
	assert.Equal(t, "S1", sub.SessionToken)
	assert.Equal(t, "192.0.2.1", sub.RemoteAddr)
	assert.Equal(t, "Shake", sub.Cart[0].Name)
	assert.Equal(t, "ORD-20261018-0001", decode[domain.Order](t, rec).OrderNumber)
}

func TestSubmitErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   domain.ErrorCode
	}{
		{"rate limited", &domain.RateLimitError{ActionKind: domain.ActionOrderPlacement, Remaining: 24*time.Second + 300*time.Millisecond}, http.StatusTooManyRequests, domain.CodeRateLimited},
		{"validation", &domain.ValidationError{Field: "customer.name", Reason: "is required"}, http.StatusBadRequest, domain.CodeValidation},
		{"allocation", fmt.Errorf("day full: %w", domain.ErrAllocationFailure), http.StatusServiceUnavailable, domain.CodeAllocationFailure},
		{"conflict", domain.ErrPersistenceConflict, http.StatusConflict, domain.CodePersistenceConflict},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError, domain.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)
			h.orders.submitErr = tt.err

			rec := h.do(http.MethodPost, "/api/orders", shakeOrder, map[string]string{HeaderSessionToken: "S1"})
			assert.Equal(t, tt.status, rec.Code)
			body := decode[errorResponse](t, rec)
			assert.Equal(t, tt.code, body.Code)

			switch tt.code {
			case domain.CodeRateLimited:
				assert.Equal(t, "25", rec.Header().Get("Retry-After"))
				assert.Equal(t, 25, body.RemainingSeconds)
			case domain.CodeValidation:
				assert.Equal(t, "customer.name", body.Field)
			case domain.CodeInternal:
				assert.Equal(t, "internal server error", body.Error)
			}
		})
	}
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(http.MethodPost, "/api/orders", `{"cart": "nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, h.orders.submitted)
}

func TestGetOrder(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(http.MethodGet, "/api/orders/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/orders/"+h.orders.order.ID.String(), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.orders.getErr = domain.ErrOrderNotFound
	rec = h.do(http.MethodGet, "/api/orders/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaffRoutesRequireToken(t *testing.T) {
	h := newAPIHarness(t)
	id := uuid.NewString()

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/api/orders"},
		{http.MethodGet, "/api/orders/" + id + "/history"},
		{http.MethodPatch, "/api/orders/" + id + "/status"},
		{http.MethodPost, "/api/orders/status"},
		{http.MethodGet, "/api/events"},
	} {
		rec := h.do(r.method, r.path, `{}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, r.path)
	}
}

func TestTransitionRecordsActor(t *testing.T) {
	h := newAPIHarness(t)
	auth := map[string]string{"Authorization": "Bearer " + staffToken(t)}
	path := "/api/orders/" + uuid.NewString() + "/status"

	rec := h.do(http.MethodPatch, path, `{"status":"completed","note":"picked up","correction":false}`, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OrderCompleted, h.status.last.To)
	assert.Equal(t, "staff:alice", h.status.last.ChangedBy)
	assert.Equal(t, "picked up", h.status.last.Note)

	h.status.err = fmt.Errorf("%w: order is cancelled", domain.ErrInvalidTransition)
	rec = h.do(http.MethodPatch, path, `{"status":"ready"}`, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.CodeInvalidTransition, decode[errorResponse](t, rec).Code)

	rec = h.do(http.MethodPatch, path, `{}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkTransitionReportsEachOrder(t *testing.T) {
	h := newAPIHarness(t)
	ok, missing := uuid.New(), uuid.New()
	h.status.results = []service.TransitionResult{
		{OrderID: ok, Order: &domain.Order{ID: ok, Status: domain.OrderReady}},
		{OrderID: missing, Err: domain.ErrOrderNotFound},
	}

	body := fmt.Sprintf(`{"orderIds":["%s","%s"],"status":"ready"}`, ok, missing)
	rec := h.do(http.MethodPost, "/api/orders/status", body, map[string]string{"Authorization": "Bearer " + staffToken(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[struct {
		Results []bulkResult `json:"results"`
	}](t, rec)
	require.Len(t, out.Results, 2)
	assert.Equal(t, domain.OrderReady, out.Results[0].Order.Status)
	assert.Nil(t, out.Results[0].Error)
	require.NotNil(t, out.Results[1].Error)
	assert.Equal(t, domain.CodeNotFound, out.Results[1].Error.Code)
	assert.Equal(t, "staff:alice", h.status.last.ChangedBy)
}

func TestBulkTransitionRateLimited(t *testing.T) {
	h := newAPIHarness(t)
	h.status.err = &domain.RateLimitError{ActionKind: domain.ActionAdmin, Remaining: 20 * time.Second}

	body := fmt.Sprintf(`{"orderIds":["%s"],"status":"ready"}`, uuid.New())
	rec := h.do(http.MethodPost, "/api/orders/status", body, map[string]string{"Authorization": "Bearer " + staffToken(t)})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("Retry-After"))
}

func TestListOrders(t *testing.T) {
	h := newAPIHarness(t)
	auth := map[string]string{"Authorization": "Bearer " + staffToken(t)}

	rec := h.do(http.MethodGet, "/api/orders?status=ready&limit=10", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	require.NotNil(t, h.orders.listed.Status)
	assert.Equal(t, domain.OrderReady, *h.orders.listed.Status)
	assert.Equal(t, 10, h.orders.listed.Limit)

	rec = h.do(http.MethodGet, "/api/orders?limit=-1", "", auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(http.MethodPost, "/api/delivery/quote", `{"address":"12 Mabini St","lat":14.6,"lng":121.0}`, map[string]string{HeaderSessionToken: "S1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Q-1", decode[domain.DeliveryQuote](t, rec).QuotationID)
	assert.Equal(t, "S1", h.orders.quoted.SessionToken)
	assert.Equal(t, "12 Mabini St", h.orders.quoted.Dropoff.Address)
	assert.NotEmpty(t, h.orders.quoted.RemoteAddr)

	rec = h.do(http.MethodPost, "/api/delivery/quote", `{"address":"12 Mabini St"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.orders.quoteErr = &domain.UpstreamError{Err: context.DeadlineExceeded}
	rec = h.do(http.MethodPost, "/api/delivery/quote", `{"address":"12 Mabini St","lat":14.6,"lng":121.0}`, nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	h.orders.quoteErr = &domain.RateLimitError{ActionKind: domain.ActionDeliveryQuote, Remaining: 3 * time.Second}
	rec = h.do(http.MethodPost, "/api/delivery/quote", `{"address":"12 Mabini St","lat":14.6,"lng":121.0}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	logger, _ := test.NewNullLogger()
	r, err := NewRouter(Deps{Orders: h.orders, Status: h.status, Hub: h.hub, Health: fakeHealth{"status": "down"}, Log: logger})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOrderEventStream(t *testing.T) {
	h := newAPIHarness(t)
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	id := h.orders.order.ID
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/api/orders/"+id.String()+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	readEvent := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event:"); ok {
				return name
			}
		}
		return ""
	}
	require.Equal(t, "ready", readEvent())

	// Another order's change must not reach this stream.
	require.NoError(t, h.hub.Publish(t.Context(), domain.ChangeEvent{OrderID: uuid.New(), Kind: domain.ChangeStatusChanged}))
	require.NoError(t, h.hub.Publish(t.Context(), domain.ChangeEvent{OrderID: id, Kind: domain.ChangeBookingUpdated}))
	assert.Equal(t, string(domain.ChangeBookingUpdated), readEvent())
}
