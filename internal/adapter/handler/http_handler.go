package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/core/service"
)

const headerIdempotencyKey = "Idempotency-Key"

type HTTPHandler struct {
	batches *service.BatchService
	queries *service.QueryService
	catalog *service.CatalogService
	ledger  *service.LedgerExporter
	logger  *zap.Logger
}

type CreateOrgRequest struct {
	Name string `json:"name"`
}

type CreateOrgResponse struct {
	Organization domain.Organization `json:"organization"`
	Warehouse    domain.Warehouse    `json:"warehouse"`
}

type AddMemberRequest struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPHandler wires the services to HTTP. ledger may be nil when no archive is configured.
func NewHTTPHandler(batches *service.BatchService, queries *service.QueryService, catalog *service.CatalogService, ledger *service.LedgerExporter, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{batches: batches, queries: queries, catalog: catalog, ledger: ledger, logger: logger}
}

// Router builds the full route table. metrics may be nil.
func (h *HTTPHandler) Router(auth *Authenticator, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID(), Logger(h.logger))
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(JWTAuth(auth))
	h.RegisterRoutes(api)
	return r
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs", h.CreateOrg).Methods(http.MethodPost)
	router.HandleFunc("/members", h.AddMember).Methods(http.MethodPost)

	router.HandleFunc("/items", h.CreateItem).Methods(http.MethodPost)
	router.HandleFunc("/items", h.ListItemsWithBatches).Methods(http.MethodGet)
	router.HandleFunc("/items/{item_id}", h.ArchiveItem).Methods(http.MethodDelete)
	router.HandleFunc("/items/{item_id}/batches", h.ListBatchesForItem).Methods(http.MethodGet)
	router.HandleFunc("/plan", h.ListItemsForPlanMode).Methods(http.MethodGet)

	router.HandleFunc("/locations", h.CreateLocation).Methods(http.MethodPost)
	router.HandleFunc("/tags", h.CreateTag).Methods(http.MethodPost)

	router.HandleFunc("/batches", h.CreateInboundBatch).Methods(http.MethodPost)
	router.HandleFunc("/batches", h.ListStockBatches).Methods(http.MethodGet)
	router.HandleFunc("/batches/{batch_id}/inbound", h.AddInboundToBatch).Methods(http.MethodPost)
	router.HandleFunc("/batches/{batch_id}/consume", h.ConsumeFromBatch).Methods(http.MethodPost)
	router.HandleFunc("/batches/{batch_id}/adjust", h.AdjustBatchQuantity).Methods(http.MethodPost)
	router.HandleFunc("/batches/{batch_id}/transactions", h.ListTransactions).Methods(http.MethodGet)

	router.HandleFunc("/ledger/export", h.ExportLedger).Methods(http.MethodPost)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateInboundBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateInboundBatchInput
	if !decode(w, r, &req) {
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	res, err := h.batches.CreateInboundBatch(r.Context(), CallerFrom(r.Context()), req)
	h.respondMutation(w, http.StatusCreated, res, err)
}

func (h *HTTPHandler) AddInboundToBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.AddInboundInput
	if !decode(w, r, &req) {
		return
	}
	req.BatchID = mux.Vars(r)["batch_id"]
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	res, err := h.batches.AddInboundToBatch(r.Context(), CallerFrom(r.Context()), req)
	h.respondMutation(w, http.StatusOK, res, err)
}

func (h *HTTPHandler) ConsumeFromBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.ConsumeInput
	if !decode(w, r, &req) {
		return
	}
	req.BatchID = mux.Vars(r)["batch_id"]
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	res, err := h.batches.ConsumeFromBatch(r.Context(), CallerFrom(r.Context()), req)
	h.respondMutation(w, http.StatusOK, res, err)
}

func (h *HTTPHandler) AdjustBatchQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.AdjustInput
	if !decode(w, r, &req) {
		return
	}
	req.BatchID = mux.Vars(r)["batch_id"]
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	res, err := h.batches.AdjustBatchQuantity(r.Context(), CallerFrom(r.Context()), req)
	h.respondMutation(w, http.StatusOK, res, err)
}

func (h *HTTPHandler) ListStockBatches(w http.ResponseWriter, r *http.Request) {
	q := domain.StockQuery{NameContains: r.URL.Query().Get("q"), Limit: intParam(r, "limit")}
	views, err := h.queries.ListStockBatches(r.Context(), CallerFrom(r.Context()), q)
	h.respond(w, http.StatusOK, map[string]any{"batches": views}, err)
}

func (h *HTTPHandler) ListItemsWithBatches(w http.ResponseWriter, r *http.Request) {
	items, err := h.queries.ListItemsWithBatches(r.Context(), CallerFrom(r.Context()))
	h.respond(w, http.StatusOK, map[string]any{"items": items}, err)
}

func (h *HTTPHandler) ListItemsForPlanMode(w http.ResponseWriter, r *http.Request) {
	exclude, _ := strconv.ParseBool(r.URL.Query().Get("exclude_expired"))
	items, err := h.queries.ListItemsForPlanMode(r.Context(), CallerFrom(r.Context()), exclude)
	h.respond(w, http.StatusOK, map[string]any{"items": items}, err)
}

func (h *HTTPHandler) ListBatchesForItem(w http.ResponseWriter, r *http.Request) {
	views, err := h.queries.ListBatchesForItem(r.Context(), CallerFrom(r.Context()), mux.Vars(r)["item_id"])
	h.respond(w, http.StatusOK, map[string]any{"batches": views}, err)
}

func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.queries.ListTransactionsForBatch(r.Context(), CallerFrom(r.Context()), mux.Vars(r)["batch_id"], intParam(r, "limit"))
	h.respond(w, http.StatusOK, map[string]any{"transactions": txns}, err)
}

func (h *HTTPHandler) CreateOrg(w http.ResponseWriter, r *http.Request) {
	var req CreateOrgRequest
	if !decode(w, r, &req) {
		return
	}
	org, wh, err := h.catalog.Bootstrap(r.Context(), CallerFrom(r.Context()).UserID, req.Name)
	h.respond(w, http.StatusCreated, CreateOrgResponse{Organization: org, Warehouse: wh}, err)
}

func (h *HTTPHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.catalog.AddMember(r.Context(), CallerFrom(r.Context()), req.UserID, req.Role)
	h.respond(w, http.StatusOK, m, err)
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateItemInput
	if !decode(w, r, &req) {
		return
	}
	item, err := h.catalog.CreateItem(r.Context(), CallerFrom(r.Context()), req)
	h.respond(w, http.StatusCreated, item, err)
}

func (h *HTTPHandler) ArchiveItem(w http.ResponseWriter, r *http.Request) {
	err := h.catalog.ArchiveItem(r.Context(), CallerFrom(r.Context()), mux.Vars(r)["item_id"])
	h.respond(w, http.StatusOK, map[string]string{"status": "archived"}, err)
}

func (h *HTTPHandler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !decode(w, r, &req) {
		return
	}
	loc, err := h.catalog.CreateLocation(r.Context(), CallerFrom(r.Context()), req.Name)
	h.respond(w, http.StatusCreated, loc, err)
}

func (h *HTTPHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !decode(w, r, &req) {
		return
	}
	tag, err := h.catalog.CreateTag(r.Context(), CallerFrom(r.Context()), req.Name)
	h.respond(w, http.StatusCreated, tag, err)
}

func (h *HTTPHandler) ExportLedger(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		respondWithError(w, http.StatusNotImplemented, "not_configured", "ledger archive is not configured")
		return
	}
	res, err := h.ledger.Export(r.Context(), CallerFrom(r.Context()))
	h.respond(w, http.StatusOK, res, err)
}

// respondMutation answers a replayed request with 200 regardless of the success status.
func (h *HTTPHandler) respondMutation(w http.ResponseWriter, status int, res domain.MutationResult, err error) {
	if err == nil && res.Replayed {
		status = http.StatusOK
	}
	h.respond(w, status, res, err)
}

func (h *HTTPHandler) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err == nil {
		respondWithJSON(w, status, payload)
		return
	}
	code := statusFor(err)
	errCode := domain.ErrorCode(err)
	if errCode == domain.CodeFailed {
		if code == http.StatusInternalServerError {
			h.logger.Error("request failed", zap.Error(err))
		} else {
			h.logger.Warn("request failed", zap.Int("status", code), zap.Error(err))
		}
		respondWithError(w, code, errCode, http.StatusText(code))
		return
	}
	respondWithError(w, code, errCode, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, domain.CodeInvalidInput, "Invalid request payload")
		return false
	}
	return true
}

func idempotencyKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(headerIdempotencyKey)
}

func intParam(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
