package httppeer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/ledger"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
	"github.com/goodnatureofminers/powledger/internal/node"
)

const maxRequestBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message     string             `json:"message"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Block       *model.Block       `json:"block,omitempty"`
}

type balanceResponse struct {
	Participant string      `json:"participant"`
	Balance     json.Number `json:"balance"`
}

type resolveResponse struct {
	Replaced bool          `json:"replaced"`
	Chain    []model.Block `json:"chain"`
}

type peerRequest struct {
	Address string `json:"address"`
}

type peersResponse struct {
	Peer  string   `json:"peer,omitempty"`
	Peers []string `json:"peers"`
}

// Handler serves the node routes used by peers, wallets and operators.
type Handler struct {
	node   Node
	logger *zap.Logger
}

// NewHandler returns the node HTTP API. An empty allowedOrigins list allows
// every origin for simple requests.
func NewHandler(n Node, logger *zap.Logger, allowedOrigins []string) http.Handler {
	h := &Handler{node: n, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /chain", h.chain)
	mux.HandleFunc("GET /pending", h.pending)
	mux.HandleFunc("GET /balance/{participant}", h.balance)
	mux.HandleFunc("POST /transaction", h.submitTransaction)
	mux.HandleFunc("POST /broadcast-transaction", h.receiveTransaction)
	mux.HandleFunc("POST /broadcast-block", h.receiveBlock)
	mux.HandleFunc("POST /mine", h.mine)
	mux.HandleFunc("POST /resolve", h.resolve)
	mux.HandleFunc("GET /peers", h.peers)
	mux.HandleFunc("POST /peers", h.addPeer)
	mux.HandleFunc("DELETE /peers", h.removePeer)

	c := cors.Default()
	if len(allowedOrigins) > 0 {
		c = cors.New(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type"},
		})
	}
	return c.Handler(mux)
}

func (h *Handler) chain(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.node.Chain())
}

func (h *Handler) pending(w http.ResponseWriter, _ *http.Request) {
	pending := h.node.Pending()
	if pending == nil {
		pending = []model.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	participant := r.PathValue("participant")
	h.writeJSON(w, http.StatusOK, balanceResponse{
		Participant: participant,
		Balance:     json.Number(h.node.Balance(participant).String()),
	})
}

func (h *Handler) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx model.Transaction
	if !h.decode(w, r, &tx) {
		return
	}
	if err := h.node.SubmitTransaction(r.Context(), tx); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, messageResponse{Message: "transaction added", Transaction: &tx})
}

func (h *Handler) receiveTransaction(w http.ResponseWriter, r *http.Request) {
	var tx model.Transaction
	if !h.decode(w, r, &tx) {
		return
	}
	if err := h.node.ReceiveTransaction(r.Context(), tx); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, messageResponse{Message: "transaction added", Transaction: &tx})
}

func (h *Handler) receiveBlock(w http.ResponseWriter, r *http.Request) {
	var block model.Block
	if !h.decode(w, r, &block) {
		return
	}
	if err := h.node.ReceiveBlock(r.Context(), block); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, messageResponse{Message: "block added", Block: &block})
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	block, err := h.node.MineBlock(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if block == nil {
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: "mining abandoned, chain extended by a peer"})
		return
	}
	h.writeJSON(w, http.StatusCreated, messageResponse{Message: "block mined", Block: block})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	replaced, err := h.node.ResolveConflicts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resolveResponse{Replaced: replaced, Chain: h.node.Chain()})
}

func (h *Handler) peers(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, peersResponse{Peers: h.node.Peers()})
}

func (h *Handler) addPeer(w http.ResponseWriter, r *http.Request) {
	var req peerRequest
	if !h.decode(w, r, &req) {
		return
	}
	peer, err := h.node.AddPeer(r.Context(), req.Address)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusCreated, peersResponse{Peer: peer, Peers: h.node.Peers()})
}

func (h *Handler) removePeer(w http.ResponseWriter, r *http.Request) {
	var req peerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.node.RemovePeer(r.Context(), req.Address); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, peersResponse{Peers: h.node.Peers()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode request: %v", err)})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed", zap.Error(err))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidSignature),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrRewardSubmission),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrBrokenChainLinkage),
		errors.Is(err, ledger.ErrInvalidProof),
		errors.Is(err, ledger.ErrInvalidReward),
		errors.Is(err, ledger.ErrDuplicate),
		errors.Is(err, ledger.ErrStaleChainTip),
		errors.Is(err, node.ErrMiningInProgress):
		return http.StatusConflict
	case errors.Is(err, node.ErrNoWallet):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
