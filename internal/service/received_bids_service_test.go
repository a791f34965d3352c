package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
	"github.com/alanyoungcy/bidindex/internal/queue"
	"github.com/alanyoungcy/bidindex/internal/store/memory"
)

var (
	contractC = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ownerA    = common.HexToAddress("0x000000000000000000000000000000000000000a")
	ownerB    = common.HexToAddress("0x000000000000000000000000000000000000000b")
	fixedNow  = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
)

func tokenC(id int) domain.TokenRef {
	return domain.TokenRef{Contract: contractC, TokenID: fmt.Sprint(id)}
}

func distinctOwner(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func testOrder(id string, set domain.TokenSetID) domain.Order {
	return domain.Order{
		ID:         id,
		Kind:       "seaport-v1.5",
		TokenSetID: set,
		Price:      decimal.NewFromInt(100),
		Value:      decimal.NewFromInt(98),
		Quantity:   decimal.NewFromInt(1),
		CreatedAt:  fixedNow.Add(-time.Hour),
		Expiration: fixedNow.Add(7 * 24 * time.Hour),
	}
}

type fanoutFixture struct {
	orders *memory.OrderStore
	bids   *memory.BidIndexStore
	queue  *queue.MemoryQueue
	svc    *ReceivedBidsService
}

func newFanoutFixture(batchSize int) fanoutFixture {
	m := observability.NewMetrics()
	mq := queue.NewMemoryQueue()
	f := fanoutFixture{
		orders: memory.NewOrderStore(),
		bids:   memory.NewBidIndexStore(),
		queue:  mq,
	}
	f.svc = NewReceivedBidsService(f.orders, f.bids, queue.NewDispatcher(mq, m),
		domain.QueueReceivedBids, batchSize, m, discardLogger())
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

// drain runs queued fan-out jobs to completion and returns how many
// invocations it took.
func (f fanoutFixture) drain(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	invocations := 0
	for {
		rec, err := f.queue.Reserve(ctx, domain.QueueReceivedBids, time.Now().Add(time.Minute))
		require.NoError(t, err)
		if rec == nil {
			return invocations
		}
		p, err := domain.DecodePayload(rec.Data)
		require.NoError(t, err)
		require.NoError(t, f.svc.Handle(ctx, p))
		require.NoError(t, f.queue.Complete(ctx, domain.QueueReceivedBids, rec.ID, 0))
		invocations++
		require.Less(t, invocations, 100, "fan-out does not terminate")
	}
}

func TestPropagate_ConcreteScenario(t *testing.T) {
	f := newFanoutFixture(DefaultBatchSize)
	f.orders.Put(testOrder("O", "contract:c"))
	f.bids.AddToTokenSet("contract:c", tokenC(1), tokenC(2), tokenC(3))
	f.bids.SetBalance(tokenC(1), ownerA, 1)
	f.bids.SetBalance(tokenC(2), ownerA, 2)
	f.bids.SetBalance(tokenC(3), ownerB, 0)

	require.NoError(t, f.svc.Enqueue(context.Background(), "O"))
	assert.Equal(t, 1, f.drain(t))

	rows := f.bids.Rows("O")
	require.Len(t, rows, 1)
	assert.Equal(t, ownerA, rows[0].Owner)
	assert.Equal(t, "O", rows[0].OrderID)
}

func TestPropagate_TerminatesAfterCeilNOverBatch(t *testing.T) {
	tests := []struct {
		name        string
		tokens      int
		invocations int
	}{
		{"empty set", 0, 1},
		{"partial page", 7, 1},
		{"exact multiple", 1000, 2},
		{"remainder", 1201, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFanoutFixture(DefaultBatchSize)
			f.orders.Put(testOrder("O", "list:big"))
			for i := 1; i <= tt.tokens; i++ {
				f.bids.AddToTokenSet("list:big", tokenC(i))
				f.bids.SetBalance(tokenC(i), distinctOwner(i), 1)
			}

			require.NoError(t, f.svc.Enqueue(context.Background(), "O"))
			assert.Equal(t, tt.invocations, f.drain(t))
			assert.Len(t, f.bids.Rows("O"), tt.tokens)
		})
	}
}

func TestPropagate_AdvancesOverOwnerlessPages(t *testing.T) {
	f := newFanoutFixture(10)
	f.orders.Put(testOrder("O", "contract:sparse"))
	for i := 1; i <= 35; i++ {
		f.bids.AddToTokenSet("contract:sparse", tokenC(i))
	}
	// Only the last page has an owner.
	f.bids.SetBalance(tokenC(33), ownerA, 1)

	require.NoError(t, f.svc.Enqueue(context.Background(), "O"))
	assert.Equal(t, 4, f.drain(t))
	assert.Len(t, f.bids.Rows("O"), 1)
}

func TestPropagate_CollapsesOwnerAcrossTokens(t *testing.T) {
	f := newFanoutFixture(DefaultBatchSize)
	f.orders.Put(testOrder("O", "contract:c"))
	for i := 1; i <= 20; i++ {
		f.bids.AddToTokenSet("contract:c", tokenC(i))
		f.bids.SetBalance(tokenC(i), ownerA, 1)
	}

	require.NoError(t, f.svc.Enqueue(context.Background(), "O"))
	f.drain(t)

	rows := f.bids.Rows("O")
	require.Len(t, rows, 1)
	assert.Equal(t, "20", rows[0].TokenID)
}

func TestPropagate_IdempotentReplay(t *testing.T) {
	f := newFanoutFixture(DefaultBatchSize)
	f.orders.Put(testOrder("O", "contract:c"))
	for i := 1; i <= 5; i++ {
		f.bids.AddToTokenSet("contract:c", tokenC(i))
		f.bids.SetBalance(tokenC(i), distinctOwner(i), 1)
	}

	ctx := context.Background()
	after := tokenC(2)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.Propagate(ctx, domain.ReceivedBidsJob{OrderID: "O"}))
		require.NoError(t, f.svc.Propagate(ctx, domain.ReceivedBidsJob{OrderID: "O", After: &after}))
	}
	assert.Len(t, f.bids.Rows("O"), 5)
}

func TestPropagate_SingletonNeverContinues(t *testing.T) {
	disp := new(mockDispatcher)
	bids := memory.NewBidIndexStore()
	orders := memory.NewOrderStore()

	set := domain.SingletonTokenSet(tokenC(1))
	orders.Put(testOrder("O", set))
	// A malformed singleton set with extra members still stops after one page.
	bids.AddToTokenSet(set, tokenC(1), tokenC(2))
	bids.SetBalance(tokenC(1), ownerA, 1)

	svc := NewReceivedBidsService(orders, bids, disp, domain.QueueReceivedBids, 1, observability.NewMetrics(), discardLogger())
	require.NoError(t, svc.Propagate(context.Background(), domain.ReceivedBidsJob{OrderID: "O"}))

	disp.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, bids.Rows("O"), 1)
}

func TestPropagate_ContinuationCarriesLastSelectedEntry(t *testing.T) {
	disp := new(mockDispatcher)
	bids := memory.NewBidIndexStore()
	orders := memory.NewOrderStore()
	orders.Put(testOrder("O", "contract:c"))
	for i := 1; i <= 3; i++ {
		bids.AddToTokenSet("contract:c", tokenC(i))
	}

	want := tokenC(2)
	disp.On("Enqueue", mock.Anything, domain.QueueReceivedBids, domain.Job{
		Name:    "O",
		Payload: domain.ReceivedBidsJob{OrderID: "O", After: &want},
	}).Return(nil).Once()

	svc := NewReceivedBidsService(orders, bids, disp, domain.QueueReceivedBids, 2, observability.NewMetrics(), discardLogger())
	require.NoError(t, svc.Propagate(context.Background(), domain.ReceivedBidsJob{OrderID: "O"}))
	disp.AssertExpectations(t)
}

func TestPropagate_MissingOrderIsSwallowed(t *testing.T) {
	disp := new(mockDispatcher)
	bids := memory.NewBidIndexStore()
	svc := NewReceivedBidsService(memory.NewOrderStore(), bids, disp, domain.QueueReceivedBids, 0, observability.NewMetrics(), discardLogger())

	require.NoError(t, svc.Propagate(context.Background(), domain.ReceivedBidsJob{OrderID: "gone"}))
	disp.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, bids.Pages())
}

type failingBids struct {
	*memory.BidIndexStore
	err error
}

func (f failingBids) MaterializePage(context.Context, domain.PageRequest) (domain.PageResult, error) {
	return domain.PageResult{}, f.err
}

func TestPropagate_ErrorsSurface(t *testing.T) {
	orders := memory.NewOrderStore()
	orders.Put(testOrder("O", "contract:c"))
	ctx := context.Background()

	t.Run("store", func(t *testing.T) {
		boom := errors.New("connection reset")
		svc := NewReceivedBidsService(orders, failingBids{memory.NewBidIndexStore(), boom}, new(mockDispatcher),
			domain.QueueReceivedBids, 0, observability.NewMetrics(), discardLogger())
		assert.ErrorIs(t, svc.Propagate(ctx, domain.ReceivedBidsJob{OrderID: "O"}), boom)
	})

	t.Run("enqueue", func(t *testing.T) {
		bids := memory.NewBidIndexStore()
		bids.AddToTokenSet("contract:c", tokenC(1), tokenC(2))
		boom := errors.New("redis down")
		disp := new(mockDispatcher)
		disp.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(boom)

		svc := NewReceivedBidsService(orders, bids, disp, domain.QueueReceivedBids, 1, observability.NewMetrics(), discardLogger())
		assert.ErrorIs(t, svc.Propagate(ctx, domain.ReceivedBidsJob{OrderID: "O"}), boom)
	})
}

func TestPropagate_CleanAt(t *testing.T) {
	f := newFanoutFixture(DefaultBatchSize)
	soon := testOrder("soon", "contract:c")
	soon.Expiration = fixedNow.Add(2 * time.Hour)
	late := testOrder("late", "contract:c")
	f.orders.Put(soon)
	f.orders.Put(late)
	f.bids.AddToTokenSet("contract:c", tokenC(1))
	f.bids.SetBalance(tokenC(1), ownerA, 1)

	ctx := context.Background()
	require.NoError(t, f.svc.Propagate(ctx, domain.ReceivedBidsJob{OrderID: "soon"}))
	require.NoError(t, f.svc.Propagate(ctx, domain.ReceivedBidsJob{OrderID: "late"}))

	assert.Equal(t, soon.Expiration, f.bids.Rows("soon")[0].CleanAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), f.bids.Rows("late")[0].CleanAt)
}

func TestReceivedBidsHandle_RejectsMetadataJobs(t *testing.T) {
	f := newFanoutFixture(DefaultBatchSize)
	err := f.svc.Handle(context.Background(), domain.SingleTokenReindex{Method: "opensea"})
	assert.ErrorIs(t, err, domain.ErrUnrecoverable)
}

func TestReceivedBidsEnqueue(t *testing.T) {
	disp := new(mockDispatcher)
	disp.On("EnqueueBulk", mock.Anything, domain.QueueReceivedBids, []domain.Job{
		{Name: "a", Payload: domain.ReceivedBidsJob{OrderID: "a"}},
		{Name: "b", Payload: domain.ReceivedBidsJob{OrderID: "b"}},
	}).Return(nil).Once()

	svc := NewReceivedBidsService(memory.NewOrderStore(), memory.NewBidIndexStore(), disp,
		domain.QueueReceivedBids, 0, observability.NewMetrics(), discardLogger())

	require.NoError(t, svc.Enqueue(context.Background(), "a", "b"))
	assert.ErrorIs(t, svc.Enqueue(context.Background(), ""), domain.ErrInvalidInput)
	disp.AssertExpectations(t)
}
