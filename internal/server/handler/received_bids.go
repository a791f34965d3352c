package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bidindex/internal/domain"
)

// ReceivedBidsService is what the received-bids handler needs from the
// service layer.
type ReceivedBidsService interface {
	Enqueue(ctx context.Context, orderIDs ...string) error
	ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.UserReceivedBid, error)
}

// ReceivedBidsHandler serves the per-owner bid index.
type ReceivedBidsHandler struct {
	bids   ReceivedBidsService
	logger *slog.Logger
}

// NewReceivedBidsHandler creates a ReceivedBidsHandler.
func NewReceivedBidsHandler(bids ReceivedBidsService, logger *slog.Logger) *ReceivedBidsHandler {
	return &ReceivedBidsHandler{bids: bids, logger: logHandler(logger, "received_bids")}
}

type receivedBidResponse struct {
	OrderID    string    `json:"orderId"`
	Kind       string    `json:"kind"`
	Contract   string    `json:"contract"`
	TokenID    string    `json:"tokenId"`
	TokenSetID string    `json:"tokenSetId"`
	Maker      string    `json:"maker"`
	Price      string    `json:"price"`
	Value      string    `json:"value"`
	Quantity   string    `json:"quantity"`
	ValidFrom  time.Time `json:"validFrom"`
	ValidUntil time.Time `json:"validUntil"`
	CreatedAt  time.Time `json:"createdAt"`
	CleanAt    time.Time `json:"cleanAt"`
}

type ownerPath struct {
	Address string `json:"address" validate:"required,eth_addr"`
}

type listReceivedBidsResponse struct {
	Owner string                `json:"owner"`
	Bids  []receivedBidResponse `json:"bids"`
}

// List returns the unexpired bids received by an owner, newest first.
// GET /users/{address}/received-bids?limit=50&offset=0&until=<rfc3339>
func (h *ReceivedBidsHandler) List(w http.ResponseWriter, r *http.Request) {
	path := ownerPath{Address: r.PathValue("address")}
	if err := validate.Struct(path); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	owner := common.HexToAddress(path.Address)

	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bids, err := h.bids.ListByOwner(r.Context(), owner, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list received bids failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list received bids")
		return
	}

	resp := listReceivedBidsResponse{
		Owner: lowerHex(owner),
		Bids:  make([]receivedBidResponse, 0, len(bids)),
	}
	for _, b := range bids {
		resp.Bids = append(resp.Bids, receivedBidResponse{
			OrderID:    b.OrderID,
			Kind:       b.OrderKind,
			Contract:   lowerHex(b.Contract),
			TokenID:    b.TokenID,
			TokenSetID: string(b.TokenSetID),
			Maker:      lowerHex(b.Maker),
			Price:      b.Price.String(),
			Value:      b.Value.String(),
			Quantity:   b.Quantity.String(),
			ValidFrom:  b.ValidFrom,
			ValidUntil: b.ValidUntil,
			CreatedAt:  b.OrderCreatedAt,
			CleanAt:    b.CleanAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type propagateRequest struct {
	OrderIDs []string `json:"orderIds" validate:"required,min=1,max=500,dive,required"`
}

// Propagate starts fan-out for the order in the path.
// POST /admin/orders/{id}/received-bids
func (h *ReceivedBidsHandler) Propagate(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}
	h.enqueue(w, r, []string{id})
}

// PropagateBulk starts fan-out for every order in the body.
// POST /admin/orders/received-bids
func (h *ReceivedBidsHandler) PropagateBulk(w http.ResponseWriter, r *http.Request) {
	var req propagateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	h.enqueue(w, r, req.OrderIDs)
}

func (h *ReceivedBidsHandler) enqueue(w http.ResponseWriter, r *http.Request, ids []string) {
	err := h.bids.Enqueue(r.Context(), ids...)
	switch {
	case err == nil:
		writeAccepted(w, http.StatusAccepted)
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "enqueue fan-out failed",
			slog.Int("orders", len(ids)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to enqueue fan-out")
	}
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}
