package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tolelom/continuity/block"
	"github.com/tolelom/continuity/config"
	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/peer"
	"github.com/tolelom/continuity/validator"
	"github.com/tolelom/continuity/wallet"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	store   dag.Store
	blocks  block.Store
	peers   peer.Registry
	genesis config.GenesisConfig

	// wallet, validate and onSubmit are only set when this node accepts
	// client-submitted operations (EnableOperationSubmission); a
	// read-only node leaves them nil and submitOperation is refused.
	wallet    *wallet.Wallet
	validate  validator.Validator
	onSubmit  func()
}

// NewHandler creates an RPC Handler over one ledger's collaborators.
func NewHandler(store dag.Store, blocks block.Store, peers peer.Registry, genesis config.GenesisConfig) *Handler {
	return &Handler{store: store, blocks: blocks, peers: peers, genesis: genesis}
}

// EnableOperationSubmission turns on the submitOperation method: incoming
// operations are checked by v, wrapped into a signed regular event by w,
// and onSubmit (typically worker.Worker.Wake) is called after a
// successful insert so the next cycle picks it up without waiting for
// the ticker.
func (h *Handler) EnableOperationSubmission(w *wallet.Wallet, v validator.Validator, onSubmit func()) {
	h.wallet = w
	h.validate = v
	h.onSubmit = onSubmit
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return h.getBlockHeight(req)

	case "getBlock":
		return h.getBlock(req)

	case "getEvent":
		return h.getEvent(req)

	case "getPeers":
		return h.getPeers(req)

	case "getLedgerConfig":
		return h.getLedgerConfig(req)

	case "getPendingOperationCount":
		return h.getPendingOperationCount(req)

	case "submitOperation":
		return h.submitOperation(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlockHeight(req Request) Response {
	tip, ok, err := h.blocks.Tip()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if !ok {
		return okResponse(req.ID, -1)
	}
	return okResponse(req.ID, tip.Header.Height)
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}

	var (
		b   *block.Block
		err error
	)
	switch {
	case params.Hash != "":
		b, err = h.blocks.GetByHash(params.Hash)
	case params.Height != nil:
		b, err = h.blocks.GetByHeight(*params.Height)
	default:
		var ok bool
		b, ok, err = h.blocks.Tip()
		if err == nil && !ok {
			return errResponse(req.ID, CodeInternalError, "no block found")
		}
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, b)
}

func (h *Handler) getEvent(req Request) Response {
	var params struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.Hash == "" {
		return errResponse(req.ID, CodeInvalidParams, "hash is required")
	}
	rec, err := h.store.Get(params.Hash)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, rec)
}

func (h *Handler) getPeers(req Request) Response {
	candidates, err := h.peers.Candidates(time.Now().Unix())
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	out := make([]map[string]any, 0, len(candidates))
	for _, rec := range candidates {
		isWitness, err := h.peers.IsWitness(rec.PeerID)
		if err != nil {
			return errResponse(req.ID, CodeInternalError, err.Error())
		}
		out = append(out, map[string]any{
			"peerId":        rec.PeerID,
			"address":       rec.Address,
			"reputation":    rec.Reputation,
			"isRecommended": rec.IsRecommended,
			"isWitness":     isWitness,
			"backoffUntil":  rec.BackoffUntil,
		})
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getLedgerConfig(req Request) Response {
	return okResponse(req.ID, map[string]any{
		"ledgerId":  h.genesis.LedgerID,
		"witnesses": h.genesis.Witnesses,
	})
}

func (h *Handler) getPendingOperationCount(req Request) Response {
	slice, err := h.store.GetRecentHistory()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	count := 0
	for _, rec := range slice.Events {
		if rec.Event.IsRegular() {
			count++
		}
	}
	return okResponse(req.ID, count)
}

func (h *Handler) submitOperation(req Request) Response {
	if h.wallet == nil {
		return errResponse(req.ID, CodeInternalError, "operation submission is not enabled on this node")
	}

	var params struct {
		ParentHash string          `json:"parentHash"`
		Operation  json.RawMessage `json:"operation"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if params.ParentHash == "" || len(params.Operation) == 0 {
		return errResponse(req.ID, CodeInvalidParams, "parentHash and operation are required")
	}
	if h.validate != nil {
		if err := h.validate.Validate(params.Operation); err != nil {
			return errResponse(req.ID, CodeInvalidParams, err.Error())
		}
	}

	parentRec, err := h.store.Get(params.ParentHash)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "parent event: "+err.Error())
	}
	ev, err := h.wallet.NewOperationEvent(&parentRec.Event, params.Operation)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if _, err := h.store.Insert(ev, dag.OriginLocal); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if h.onSubmit != nil {
		h.onSubmit()
	}
	return okResponse(req.ID, map[string]string{"eventHash": ev.EventHash})
}
