package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashmarket/internal/domain"
	"github.com/alanyoungcy/flashmarket/internal/settlement"
)

// MarketWriter defines the settlement operations the market handler needs
// from the engine. It is declared locally so the handler package does not
// depend on the concrete engine type beyond its parameter structs.
type MarketWriter interface {
	CreateMarket(ctx context.Context, creator common.Address, p settlement.CreateMarketParams) (domain.Market, error)
	ResolveMarket(ctx context.Context, caller common.Address, marketID common.Hash) (domain.Market, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	engine  MarketWriter
	markets domain.MarketStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(engine MarketWriter, markets domain.MarketStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		engine:  engine,
		markets: markets,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets filtered by outcome with pagination.
// GET /api/markets?outcome=pending&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	outcome := domain.Outcome(r.URL.Query().Get("outcome"))
	if outcome == "" {
		outcome = domain.OutcomePending
	}
	switch outcome {
	case domain.OutcomePending, domain.OutcomeYes, domain.OutcomeNo, domain.OutcomeRefunded:
	default:
		writeError(w, http.StatusBadRequest, "unknown outcome filter")
		return
	}

	markets, err := h.markets.ListByOutcome(r.Context(), outcome, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: renderMarkets(markets),
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	market, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "get market")
		return
	}

	writeJSON(w, http.StatusOK, renderMarket(market))
}

// createMarketRequest is the body for POST /api/markets. The envelope's
// recovered signer becomes the market creator.
type createMarketRequest struct {
	AssetName        string `json:"asset_name"`
	StrikePrice      string `json:"strike_price"`
	DurationSecs     int64  `json:"duration_secs"`
	CutoffBufferSecs int64  `json:"cutoff_buffer_secs"`
	GraceSecs        int64  `json:"grace_secs"`
	MaxDelaySecs     int64  `json:"max_delay_secs"`
	Keeper           string `json:"keeper"`
	OracleFeed       string `json:"oracle_feed"`

	signedEnvelope
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creator, err := recoverCaller(req.signedEnvelope, "create_market", h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	strike, err := strconv.ParseUint(req.StrikePrice, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strike_price")
		return
	}
	if !common.IsHexAddress(req.Keeper) {
		writeError(w, http.StatusBadRequest, "invalid keeper address")
		return
	}

	market, err := h.engine.CreateMarket(r.Context(), creator, settlement.CreateMarketParams{
		AssetName:        req.AssetName,
		StrikePrice:      strike,
		DurationSecs:     req.DurationSecs,
		CutoffBufferSecs: req.CutoffBufferSecs,
		GraceSecs:        req.GraceSecs,
		MaxDelaySecs:     req.MaxDelaySecs,
		Keeper:           common.HexToAddress(req.Keeper),
		OracleFeed:       req.OracleFeed,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err, "create market")
		return
	}

	writeJSON(w, http.StatusCreated, renderMarket(market))
}

// resolveMarketRequest is the body for POST /api/markets/{id}/resolve.
type resolveMarketRequest struct {
	signedEnvelope
}

// ResolveMarket settles an expired market against the oracle. The recovered
// signer must be the market's keeper.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req resolveMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := recoverCaller(req.signedEnvelope, "resolve_market", h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if common.HexToHash(req.Payload.Market) != id {
		writeError(w, http.StatusBadRequest, "payload market does not match path")
		return
	}

	market, err := h.engine.ResolveMarket(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "resolve market")
		return
	}

	writeJSON(w, http.StatusOK, renderMarket(market))
}
