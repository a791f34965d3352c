package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockFlags struct{ mock.Mock }

func (m *mockFlags) SetFlag(ctx context.Context, req service.FlagRequest) error {
	return m.Called(ctx, req).Error(0)
}

type mockBids struct{ mock.Mock }

func (m *mockBids) Enqueue(ctx context.Context, orderIDs ...string) error {
	return m.Called(ctx, orderIDs).Error(0)
}

func (m *mockBids) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.UserReceivedBid, error) {
	args := m.Called(ctx, owner, opts)
	bids, _ := args.Get(0).([]domain.UserReceivedBid)
	return bids, args.Error(1)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Records(ctx context.Context, queue string, state domain.JobState, limit int) ([]domain.JobRecord, error) {
	args := m.Called(ctx, queue, state, limit)
	recs, _ := args.Get(0).([]domain.JobRecord)
	return recs, args.Error(1)
}

func (m *mockQueue) Retry(ctx context.Context, queue, id string) error {
	return m.Called(ctx, queue, id).Error(0)
}

func (m *mockQueue) Stats(ctx context.Context, queue string) (domain.QueueStats, error) {
	args := m.Called(ctx, queue)
	return args.Get(0).(domain.QueueStats), args.Error(1)
}

type mockReindexer struct{ mock.Mock }

func (m *mockReindexer) ReindexCollection(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

const tokenStr = "0x00000000000000000000000000000000000000c1:42"

func TestTokenHandler_SetFlagStatusMapping(t *testing.T) {
	ref, err := domain.ParseTokenRef(tokenStr)
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       string
		serviceErr error
		callsSvc   bool
		wantStatus int
		wantBody   string
	}{
		{"accepted", `{"token":"` + tokenStr + `","flag":1}`, nil, true, http.StatusOK, `{"message":"Request accepted"}`},
		{"unknown token", `{"token":"` + tokenStr + `","flag":0}`, domain.ErrNotFound, true, http.StatusUnprocessableEntity, `{"error":"token not found"}`},
		{"lock held", `{"token":"` + tokenStr + `","flag":1}`, domain.ErrLockHeld, true, http.StatusConflict, ""},
		{"store failure", `{"token":"` + tokenStr + `","flag":1}`, errors.New("db down"), true, http.StatusInternalServerError, ""},
		{"missing flag", `{"token":"` + tokenStr + `"}`, nil, false, http.StatusBadRequest, `{"error":"flag is required"}`},
		{"flag out of range", `{"token":"` + tokenStr + `","flag":2}`, nil, false, http.StatusBadRequest, `{"error":"flag must be one of [0 1]"}`},
		{"malformed token", `{"token":"0xabc:1","flag":1}`, nil, false, http.StatusBadRequest, ""},
		{"not json", `flag=1`, nil, false, http.StatusBadRequest, `{"error":"invalid request body"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := &mockFlags{}
			if tt.callsSvc {
				flags.On("SetFlag", mock.Anything, mock.MatchedBy(func(req service.FlagRequest) bool {
					return req.Token == ref
				})).Return(tt.serviceErr).Once()
			}
			h := NewTokenHandler(flags, discardLogger())

			req := httptest.NewRequest(http.MethodPost, "/tokens/flag/v1", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.SetFlag(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			flags.AssertExpectations(t)
		})
	}
}

func TestTokenHandler_SetFlagPassesActorAndValue(t *testing.T) {
	flags := &mockFlags{}
	flags.On("SetFlag", mock.Anything, mock.Anything).Return(nil).Once()
	h := NewTokenHandler(flags, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/tokens/flag/v1",
		strings.NewReader(`{"token":"0x00000000000000000000000000000000000000C1:0042","flag":0}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.SetFlag(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got := flags.Calls[0].Arguments.Get(1).(service.FlagRequest)
	assert.Equal(t, tokenStr, got.Token.String())
	assert.False(t, got.Flagged)
	assert.Equal(t, "203.0.113.9", got.Actor)
}

func TestReceivedBidsHandler_List(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bid := domain.UserReceivedBid{
		Owner:          owner,
		Contract:       common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		TokenID:        "2",
		OrderID:        "order-1",
		OrderKind:      "seaport",
		TokenSetID:     "list:abc",
		Maker:          common.HexToAddress("0x00000000000000000000000000000000000000ff"),
		Price:          decimal.RequireFromString("1.5"),
		Value:          decimal.RequireFromString("1.4"),
		Quantity:       decimal.NewFromInt(1),
		OrderCreatedAt: created,
		CleanAt:        created.Add(24 * time.Hour),
	}

	bids := &mockBids{}
	bids.On("ListByOwner", mock.Anything, owner, mock.MatchedBy(func(o domain.ListOpts) bool {
		return o.Limit == 10 && o.Offset == 0 && o.Until == nil
	})).Return([]domain.UserReceivedBid{bid}, nil).Once()
	h := NewReceivedBidsHandler(bids, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/users/x/received-bids?limit=10", nil)
	req.SetPathValue("address", "0x00000000000000000000000000000000000000A1")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"owner":"0x00000000000000000000000000000000000000a1"`)
	assert.Contains(t, body, `"orderId":"order-1"`)
	assert.Contains(t, body, `"price":"1.5"`)
	assert.Contains(t, body, `"tokenSetId":"list:abc"`)
	bids.AssertExpectations(t)
}

func TestReceivedBidsHandler_ListRejectsBadInput(t *testing.T) {
	h := NewReceivedBidsHandler(&mockBids{}, discardLogger())

	for _, addr := range []string{"nope", "", "0x00000000000000000000000000000000000000a", "00000000000000000000000000000000000000a1zz"} {
		req := httptest.NewRequest(http.MethodGet, "/users/x/received-bids", nil)
		req.SetPathValue("address", addr)
		rec := httptest.NewRecorder()
		h.List(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, addr)
	}

	req := httptest.NewRequest(http.MethodGet, "/users/nope/received-bids", nil)
	req.SetPathValue("address", "nope")
	rec := httptest.NewRecorder()
	h.List(rec, req)
	assert.JSONEq(t, `{"error":"address must be a hex address"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/users/x/received-bids?until=yesterday", nil)
	req.SetPathValue("address", "0x00000000000000000000000000000000000000a1")
	rec = httptest.NewRecorder()
	h.List(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceivedBidsHandler_Propagate(t *testing.T) {
	bids := &mockBids{}
	bids.On("Enqueue", mock.Anything, []string{"order-1"}).Return(nil).Once()
	bids.On("Enqueue", mock.Anything, []string{"a", "b"}).Return(errors.New("redis down")).Once()
	h := NewReceivedBidsHandler(bids, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/order-1/received-bids", nil)
	req.SetPathValue("id", "order-1")
	rec := httptest.NewRecorder()
	h.Propagate(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/orders/received-bids", strings.NewReader(`{"orderIds":["a","b"]}`))
	rec = httptest.NewRecorder()
	h.PropagateBulk(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/orders/received-bids", strings.NewReader(`{"orderIds":[""]}`))
	rec = httptest.NewRecorder()
	h.PropagateBulk(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bids.AssertExpectations(t)
}

func TestQueueHandler(t *testing.T) {
	q := &mockQueue{}
	q.On("Records", mock.Anything, domain.QueueReceivedBids, domain.JobFailed, 50).
		Return([]domain.JobRecord{{ID: "j1", Queue: domain.QueueReceivedBids, State: domain.JobFailed}}, nil).Once()
	q.On("Records", mock.Anything, domain.QueueReceivedBids, domain.JobState("bogus"), 50).
		Return(nil, domain.ErrInvalidInput).Once()
	q.On("Stats", mock.Anything, domain.QueueReceivedBids).Return(domain.QueueStats{Failed: 1}, nil).Once()
	q.On("Retry", mock.Anything, domain.QueueReceivedBids, "j1").Return(nil).Once()
	q.On("Retry", mock.Anything, domain.QueueReceivedBids, "missing").Return(domain.ErrNotFound).Once()
	h := NewQueueHandler(q, []string{domain.QueueReceivedBids}, discardLogger())

	call := func(fn http.HandlerFunc, target string, values map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		for k, v := range values {
			req.SetPathValue(k, v)
		}
		rec := httptest.NewRecorder()
		fn(rec, req)
		return rec
	}
	qv := map[string]string{"queue": domain.QueueReceivedBids}

	rec := call(h.ListJobs, "/admin/queues/x/jobs", qv)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"j1"`)

	rec = call(h.ListJobs, "/admin/queues/x/jobs?state=bogus", qv)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.Stats, "/admin/queues/x/stats", qv)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"waiting":0,"active":0,"delayed":0,"completed":0,"failed":1}`, rec.Body.String())

	rec = call(h.Retry, "/admin/queues/x/jobs/j1/retry", map[string]string{"queue": domain.QueueReceivedBids, "id": "j1"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = call(h.Retry, "/admin/queues/x/jobs/missing/retry", map[string]string{"queue": domain.QueueReceivedBids, "id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(h.Stats, "/admin/queues/x/stats", map[string]string{"queue": "other"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	q.AssertExpectations(t)
}

func TestCollectionHandler_Reindex(t *testing.T) {
	r := &mockReindexer{}
	r.On("ReindexCollection", mock.Anything, "col-1").Return(nil).Once()
	r.On("ReindexCollection", mock.Anything, "ghost").Return(domain.ErrNotFound).Once()
	h := NewCollectionHandler(r, discardLogger())

	for id, want := range map[string]int{"col-1": http.StatusAccepted, "ghost": http.StatusNotFound} {
		req := httptest.NewRequest(http.MethodPost, "/admin/collections/"+id+"/reindex", nil)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()
		h.Reindex(rec, req)
		assert.Equal(t, want, rec.Code, id)
	}
	r.AssertExpectations(t)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"postgres": ok}, discardLogger()).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"postgres": ok, "redis": down}, discardLogger()).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"connection refused"`)
}
