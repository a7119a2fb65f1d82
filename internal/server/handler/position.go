package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// PositionWriter defines the settlement operations the position handler
// needs from the engine.
type PositionWriter interface {
	PlaceBet(ctx context.Context, caller common.Address, marketID common.Hash, amount uint64, side domain.Side) (domain.Position, error)
	ClaimWinnings(ctx context.Context, caller common.Address, marketID, positionID common.Hash) (uint64, error)
	RefundUnsettlable(ctx context.Context, caller common.Address, marketID, positionID common.Hash) (uint64, error)
}

// PositionHandler serves bet, claim, refund, and position read endpoints.
type PositionHandler struct {
	engine    PositionWriter
	positions domain.PositionStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(engine PositionWriter, positions domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		engine:    engine,
		positions: positions,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// betRequest is the body for POST /api/markets/{id}/bets. Amount and side
// ride inside the signed payload so they cannot be altered in flight.
type betRequest struct {
	signedEnvelope
}

// PlaceBet stakes the signed amount on one side of the market.
// POST /api/markets/{id}/bets
func (h *PositionHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req betRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := recoverCaller(req.signedEnvelope, "place_bet", h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if common.HexToHash(req.Payload.Market) != id {
		writeError(w, http.StatusBadRequest, "payload market does not match path")
		return
	}

	amount, err := strconv.ParseUint(req.Payload.Amount, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	side := domain.Side(req.Payload.Side)

	pos, err := h.engine.PlaceBet(r.Context(), caller, id, amount, side)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "place bet")
		return
	}

	writeJSON(w, http.StatusCreated, renderPosition(pos))
}

// claimResponse is the body returned by the claim and refund endpoints.
type claimResponse struct {
	PositionID string `json:"position_id"`
	Amount     string `json:"amount"`
}

// ClaimWinnings pays out the caller's winning position.
// POST /api/markets/{id}/claim
func (h *PositionHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "claim_winnings", h.engine.ClaimWinnings)
}

// RefundStake returns the caller's stake from an unsettlable market.
// POST /api/markets/{id}/refund
func (h *PositionHandler) RefundStake(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "refund_stake", h.engine.RefundUnsettlable)
}

// settle is the shared claim/refund path: both recover the caller from a
// signed envelope and move value out of a pool vault exactly once.
func (h *PositionHandler) settle(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	op func(ctx context.Context, caller common.Address, marketID, positionID common.Hash) (uint64, error),
) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req struct {
		PositionID string `json:"position_id"`
		signedEnvelope
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := recoverCaller(req.signedEnvelope, action, h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if common.HexToHash(req.Payload.Market) != id {
		writeError(w, http.StatusBadRequest, "payload market does not match path")
		return
	}
	positionID, err := parseHash(req.PositionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	amount, err := op(r.Context(), caller, id, positionID)
	if err != nil {
		writeDomainError(w, r, h.logger, err, action)
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		PositionID: positionID.Hex(),
		Amount:     strconv.FormatUint(amount, 10),
	})
}

// listPositionsResponse wraps the list endpoint output.
type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
	Limit     int            `json:"limit"`
	Offset    int            `json:"offset"`
}

// ListPositions returns positions for a market or an owner.
// GET /api/positions?market=0x..&owner=0x..&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		positions []domain.Position
		err       error
	)
	switch {
	case q.Get("market") != "":
		var market common.Hash
		market, err = parseHash(q.Get("market"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid market filter")
			return
		}
		positions, err = h.positions.ListByMarket(r.Context(), market, opts)
	case q.Get("owner") != "":
		if !common.IsHexAddress(q.Get("owner")) {
			writeError(w, http.StatusBadRequest, "invalid owner filter")
			return
		}
		positions, err = h.positions.ListByOwner(r.Context(), common.HexToAddress(q.Get("owner")), opts)
	default:
		writeError(w, http.StatusBadRequest, "market or owner filter required")
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list positions")
		return
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: renderPositions(positions),
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// GetPosition returns a single position by its ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := h.positions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "get position")
		return
	}

	writeJSON(w, http.StatusOK, renderPosition(pos))
}
