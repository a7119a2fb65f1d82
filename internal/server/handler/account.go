package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// AccountHandler serves ledger account read endpoints.
type AccountHandler struct {
	ledger    domain.Ledger
	namespace common.Hash
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler. namespace is the derivation
// namespace used to map owner addresses onto holding accounts.
func NewAccountHandler(ledger domain.Ledger, namespace common.Hash, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		ledger:    ledger,
		namespace: namespace,
		logger:    logger,
	}
}

// GetBalance returns the balance of the holding account derived for an
// owner address.
// GET /api/accounts/{owner}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	if !common.IsHexAddress(owner) {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}

	account := domain.HoldingAccount(h.namespace, common.HexToAddress(owner))
	balance, err := h.ledger.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "get balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"balance": strconv.FormatUint(balance, 10),
	})
}
