package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
	"github.com/alanyoungcy/bidindex/internal/queue"
	"github.com/alanyoungcy/bidindex/internal/server/handler"
	"github.com/alanyoungcy/bidindex/internal/service"
	"github.com/alanyoungcy/bidindex/internal/store/memory"
)

const apiKey = "k-123"

type localLocks struct{ mu sync.Mutex }

func (l *localLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

type testStack struct {
	srv    *Server
	queue  *queue.MemoryQueue
	tokens *memory.TokenStore
	bids   *memory.BidIndexStore
	orders *memory.OrderStore
	audit  *memory.AuditStore
	fanout *service.ReceivedBidsService
}

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newTestStack(t *testing.T) testStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()

	mq := queue.NewMemoryQueue()
	dispatcher := queue.NewDispatcher(mq, metrics)
	orders := memory.NewOrderStore()
	bids := memory.NewBidIndexStore()
	tokens := memory.NewTokenStore()
	collections := memory.NewCollectionStore()
	audit := memory.NewAuditStore()

	collections.Put(domain.Collection{ID: "col-1", Contract: contract, Name: "Test"})
	tokens.Put(domain.Token{Ref: domain.TokenRef{Contract: contract, TokenID: "7"}, CollectionID: "col-1"})

	fanout := service.NewReceivedBidsService(orders, bids, dispatcher, domain.QueueReceivedBids, 0, metrics, logger)
	reindexer := service.NewReindexer(dispatcher, collections, domain.QueueMetadataIndex,
		service.IndexingMethods{Default: "opensea"}, metrics, logger)
	flags := service.NewFlagService(tokens, collections, reindexer, &localLocks{}, audit, time.Second, metrics, logger)

	srv := NewServer(Config{APIKeys: map[string]string{apiKey: "ops-console"}}, Handlers{
		Health:       handler.NewHealthHandler(nil, logger),
		Tokens:       handler.NewTokenHandler(flags, logger),
		ReceivedBids: handler.NewReceivedBidsHandler(fanout, logger),
		Queues:       handler.NewQueueHandler(mq, []string{domain.QueueReceivedBids, domain.QueueMetadataIndex}, logger),
		Collections:  handler.NewCollectionHandler(reindexer, logger),
	}, nil, metrics, logger)

	return testStack{srv: srv, queue: mq, tokens: tokens, bids: bids, orders: orders, audit: audit, fanout: fanout}
}

func (s testStack) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = "192.0.2.10:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_FlagRouteEnqueuesPrioritizedReindex(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	rec := s.do(t, http.MethodPost, "/tokens/flag/v1",
		`{"token":"0x00000000000000000000000000000000000000c1:7","flag":1}`,
		map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tok, err := s.tokens.Get(ctx, domain.TokenRef{Contract: contract, TokenID: "7"})
	require.NoError(t, err)
	assert.True(t, tok.IsFlagged)

	jobs, err := s.queue.Records(ctx, domain.QueueMetadataIndex, domain.JobWaiting, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Prioritized)
	assert.Equal(t, domain.KindSingleToken, jobs[0].Kind)

	entries, err := s.audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ops-console", entries[0].Detail["actor"])

	// Same value again: accepted, no new job.
	rec = s.do(t, http.MethodPost, "/tokens/flag/v1",
		`{"token":"0x00000000000000000000000000000000000000c1:7","flag":1}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats, err := s.queue.Stats(ctx, domain.QueueMetadataIndex)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Waiting)

	rec = s.do(t, http.MethodPost, "/tokens/flag/v1",
		`{"token":"0x00000000000000000000000000000000000000c1:8","flag":1}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_AdminRoutesRequireKey(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodGet, "/admin/queues/"+domain.QueueReceivedBids+"/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/queues/"+domain.QueueReceivedBids+"/stats", "",
		map[string]string{"Authorization": "Bearer " + apiKey})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PropagateThenRead(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	ref := domain.TokenRef{Contract: contract, TokenID: "7"}
	s.bids.AddToTokenSet("list:one", ref)
	s.bids.SetBalance(ref, owner, 1)
	s.orders.Put(domain.Order{
		ID:         "order-1",
		Kind:       "seaport",
		TokenSetID: "list:one",
		Price:      decimal.NewFromInt(3),
		Value:      decimal.NewFromInt(3),
		Quantity:   decimal.NewFromInt(1),
		CreatedAt:  time.Now().Add(-time.Minute),
	})

	rec := s.do(t, http.MethodPost, "/admin/orders/order-1/received-bids", "",
		map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := s.queue.Reserve(ctx, domain.QueueReceivedBids, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job)
	payload, err := domain.DecodePayload(job.Data)
	require.NoError(t, err)
	require.NoError(t, s.fanout.Handle(ctx, payload))

	rec = s.do(t, http.MethodGet, "/users/"+owner.Hex()+"/received-bids", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"orderId":"order-1"`)
	assert.Contains(t, rec.Body.String(), `"tokenId":"7"`)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bidindex_http_requests_total{method="GET",route="GET /api/health",status="200"} 1`)
}
