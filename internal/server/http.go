package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"YokoFund/internal/address"
	"YokoFund/internal/ingestion"
)

const maxBodyBytes = 1 << 20

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// registerRoutes mounts the HTTP/JSON API. Paths mirror the gRPC methods
// plus the read-only endpoints that have no gRPC counterpart.
func registerRoutes(mux *runtime.ServeMux, deps *ServerDeps) error {
	h := &httpHandlers{svc: &ledgerService{submit: deps.Submitter, qs: deps.Querier}, deps: deps}

	routes := []route{
		{http.MethodPost, "/v1/transactions", h.submitTransaction},
		{http.MethodGet, "/v1/transactions/{tx_id}", h.getTransaction},
		{http.MethodGet, "/v1/transactions/{tx_id}/journal", h.getJournal},
		{http.MethodGet, "/v1/funds/{authority}", h.getFund},
		{http.MethodGet, "/v1/funds/{fund}/positions/{depositor}", h.getPosition},
		{http.MethodGet, "/v1/funds/{fund}/positions/{depositor}/claims/{counter}", h.estimateClaim},
		{http.MethodGet, "/v1/funds/{fund}/payouts", h.listPayouts},
		{http.MethodGet, "/v1/funds/{fund}/payouts/{counter}", h.getPayout},
		{http.MethodGet, "/v1/accounts/{account}/claims", h.listClaims},
		{http.MethodGet, "/v1/admin/integrity", h.verifyIntegrity},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

type httpHandlers struct {
	svc  *ledgerService
	deps *ServerDeps
}

func (h *httpHandlers) submitTransaction(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	tx, err := ingestion.ParseTransaction(body)
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	resp, err := h.svc.SubmitTransaction(r.Context(), &SubmitTransactionRequest{Transaction: tx})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *httpHandlers) getTransaction(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := h.deps.Querier.GetTransaction(r.Context(), p["tx_id"])
	respond(w, resp, err)
}

func (h *httpHandlers) getJournal(w http.ResponseWriter, r *http.Request, p map[string]string) {
	resp, err := h.deps.Querier.GetJournal(r.Context(), p["tx_id"])
	respond(w, resp, err)
}

func (h *httpHandlers) getFund(w http.ResponseWriter, r *http.Request, p map[string]string) {
	authority, err := pubkeyParam(p, "authority")
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.svc.GetFund(r.Context(), &GetFundRequest{Authority: authority})
	writeResult(w, resp, err)
}

func (h *httpHandlers) getPosition(w http.ResponseWriter, r *http.Request, p map[string]string) {
	fund, err := pubkeyParam(p, "fund")
	if err != nil {
		writeError(w, err)
		return
	}
	depositor, err := pubkeyParam(p, "depositor")
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.svc.GetPosition(r.Context(), &GetPositionRequest{Fund: fund, Depositor: depositor})
	writeResult(w, resp, err)
}

func (h *httpHandlers) getPayout(w http.ResponseWriter, r *http.Request, p map[string]string) {
	fund, err := pubkeyParam(p, "fund")
	if err != nil {
		writeError(w, err)
		return
	}
	counter, err := uintParam(p["counter"], "counter")
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.svc.GetPayout(r.Context(), &GetPayoutRequest{Fund: fund, Counter: counter})
	writeResult(w, resp, err)
}

func (h *httpHandlers) listPayouts(w http.ResponseWriter, r *http.Request, p map[string]string) {
	fund, err := pubkeyParam(p, "fund")
	if err != nil {
		writeError(w, err)
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, status.Error(codes.InvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = min(n, 500)
	}

	var before *uint64
	if s := r.URL.Query().Get("before"); s != "" {
		b, err := uintParam(s, "before")
		if err != nil {
			writeError(w, err)
			return
		}
		before = &b
	}

	resp, err := h.deps.Querier.ListPayouts(r.Context(), fund, limit, before)
	respond(w, resp, err)
}

func (h *httpHandlers) estimateClaim(w http.ResponseWriter, r *http.Request, p map[string]string) {
	fund, err := pubkeyParam(p, "fund")
	if err != nil {
		writeError(w, err)
		return
	}
	depositor, err := pubkeyParam(p, "depositor")
	if err != nil {
		writeError(w, err)
		return
	}
	counter, err := uintParam(p["counter"], "counter")
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.Querier.EstimateClaim(r.Context(), fund, depositor, counter)
	respond(w, resp, err)
}

func (h *httpHandlers) listClaims(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if h.deps.Claims == nil {
		writeError(w, status.Error(codes.Unimplemented, "claim history is disabled"))
		return
	}
	account, err := pubkeyParam(p, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Claims.QueryByAccount(account, 100))
}

func (h *httpHandlers) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.deps.Querier.VerifyIntegrity(r.Context())
	respond(w, resp, err)
}

func pubkeyParam(p map[string]string, name string) (address.Pubkey, error) {
	pk, err := address.ParsePubkey(p[name])
	if err != nil {
		return pk, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return pk, nil
}

func uintParam(s, name string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an unsigned integer", name)
	}
	return n, nil
}

// respond writes the result of a direct query call.
func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// writeResult writes the result of a ledgerService call, whose errors are
// already gRPC statuses.
func writeResult(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]any{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
