package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/core/service"
)

const ServiceName = "stockroom.v1.Stock"

// JSONCodec carries messages as JSON. Clients select it with grpc.CallContentSubtype("json").
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

type ListStockBatchesRequest struct {
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type ListItemsRequest struct{}

type PlanModeRequest struct {
	ExcludeExpired bool `json:"exclude_expired,omitempty"`
}

type ListBatchesForItemRequest struct {
	ItemID string `json:"item_id"`
}

type BatchesResponse struct {
	Batches []domain.StockBatchView `json:"batches"`
}

type ItemsResponse struct {
	Items []domain.ItemWithBatches `json:"items"`
}

type PlanModeResponse struct {
	Items []domain.PlanModeItem `json:"items"`
}

// StockServer is the gRPC surface of the batch engine and its read projections.
type StockServer interface {
	CreateInboundBatch(context.Context, *domain.CreateInboundBatchInput) (*domain.MutationResult, error)
	AddInboundToBatch(context.Context, *domain.AddInboundInput) (*domain.MutationResult, error)
	ConsumeFromBatch(context.Context, *domain.ConsumeInput) (*domain.MutationResult, error)
	AdjustBatchQuantity(context.Context, *domain.AdjustInput) (*domain.MutationResult, error)
	ListStockBatches(context.Context, *ListStockBatchesRequest) (*BatchesResponse, error)
	ListItemsWithBatches(context.Context, *ListItemsRequest) (*ItemsResponse, error)
	ListItemsForPlanMode(context.Context, *PlanModeRequest) (*PlanModeResponse, error)
	ListBatchesForItem(context.Context, *ListBatchesForItemRequest) (*BatchesResponse, error)
}

type GRPCHandler struct {
	batches *service.BatchService
	queries *service.QueryService
	logger  *zap.Logger
}

var _ StockServer = (*GRPCHandler)(nil)

func NewGRPCHandler(batches *service.BatchService, queries *service.QueryService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{batches: batches, queries: queries, logger: logger}
}

func (h *GRPCHandler) CreateInboundBatch(ctx context.Context, req *domain.CreateInboundBatchInput) (*domain.MutationResult, error) {
	if req.Source == "" {
		req.Source = domain.SourceGRPC
	}
	res, err := h.batches.CreateInboundBatch(ctx, CallerFrom(ctx), *req)
	return reply(h, &res, err)
}

func (h *GRPCHandler) AddInboundToBatch(ctx context.Context, req *domain.AddInboundInput) (*domain.MutationResult, error) {
	if req.Source == "" {
		req.Source = domain.SourceGRPC
	}
	res, err := h.batches.AddInboundToBatch(ctx, CallerFrom(ctx), *req)
	return reply(h, &res, err)
}

func (h *GRPCHandler) ConsumeFromBatch(ctx context.Context, req *domain.ConsumeInput) (*domain.MutationResult, error) {
	if req.Source == "" {
		req.Source = domain.SourceGRPC
	}
	res, err := h.batches.ConsumeFromBatch(ctx, CallerFrom(ctx), *req)
	return reply(h, &res, err)
}

func (h *GRPCHandler) AdjustBatchQuantity(ctx context.Context, req *domain.AdjustInput) (*domain.MutationResult, error) {
	if req.Source == "" {
		req.Source = domain.SourceGRPC
	}
	res, err := h.batches.AdjustBatchQuantity(ctx, CallerFrom(ctx), *req)
	return reply(h, &res, err)
}

func (h *GRPCHandler) ListStockBatches(ctx context.Context, req *ListStockBatchesRequest) (*BatchesResponse, error) {
	views, err := h.queries.ListStockBatches(ctx, CallerFrom(ctx), domain.StockQuery{NameContains: req.Query, Limit: req.Limit})
	return reply(h, &BatchesResponse{Batches: views}, err)
}

func (h *GRPCHandler) ListItemsWithBatches(ctx context.Context, _ *ListItemsRequest) (*ItemsResponse, error) {
	items, err := h.queries.ListItemsWithBatches(ctx, CallerFrom(ctx))
	return reply(h, &ItemsResponse{Items: items}, err)
}

func (h *GRPCHandler) ListItemsForPlanMode(ctx context.Context, req *PlanModeRequest) (*PlanModeResponse, error) {
	items, err := h.queries.ListItemsForPlanMode(ctx, CallerFrom(ctx), req.ExcludeExpired)
	return reply(h, &PlanModeResponse{Items: items}, err)
}

func (h *GRPCHandler) ListBatchesForItem(ctx context.Context, req *ListBatchesForItemRequest) (*BatchesResponse, error) {
	views, err := h.queries.ListBatchesForItem(ctx, CallerFrom(ctx), req.ItemID)
	return reply(h, &BatchesResponse{Batches: views}, err)
}

// reply converts engine errors into gRPC statuses. Unexpected errors are logged and
// reported as Internal without detail.
func reply[T any](h *GRPCHandler, resp *T, err error) (*T, error) {
	if err == nil {
		return resp, nil
	}
	code := grpcCode(err)
	errCode := domain.ErrorCode(err)
	if errCode == domain.CodeFailed {
		if code == codes.Internal {
			h.logger.Error("rpc failed", zap.Error(err))
		} else {
			h.logger.Warn("rpc failed", zap.Stringer("code", code), zap.Error(err))
		}
		return nil, status.Error(code, errCode+": "+code.String())
	}
	return nil, status.Error(code, errCode+": "+err.Error())
}

func grpcCode(err error) codes.Code {
	switch domain.ErrorCode(err) {
	case domain.CodeQuantityInvalid, domain.CodeInvalidDate, domain.CodeInvalidInput, domain.CodeIdempotencyKeyRequired:
		return codes.InvalidArgument
	case domain.CodeItemNotFound, domain.CodeBatchNotFound:
		return codes.NotFound
	case domain.CodeReferenceNotFound, domain.CodeInsufficientStock:
		return codes.FailedPrecondition
	case domain.CodeItemNameTaken:
		return codes.AlreadyExists
	case domain.CodeForbidden:
		return codes.PermissionDenied
	case domain.CodeUnauthenticated:
		return codes.Unauthenticated
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	return codes.Internal
}

// AuthInterceptor authenticates the bearer token in the "authorization" metadata and
// stores the caller on the context. An "x-org-id" entry overrides the org hint.
func AuthInterceptor(auth *Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		caller, err := auth.Authenticate(bearerToken(first(md, "authorization")))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "authorization is required")
		}
		if org := first(md, strings.ToLower(headerOrgID)); org != "" {
			caller.OrgID = org
		}
		return handler(withCaller(ctx, caller), req)
	}
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func RegisterStockServer(s grpc.ServiceRegistrar, srv StockServer) {
	s.RegisterService(&StockServiceDesc, srv)
}

func unary[Req any, Resp any](name string, call func(StockServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StockServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(StockServer), ctx, req.(*Req))
			})
		},
	}
}

var StockServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StockServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateInboundBatch", StockServer.CreateInboundBatch),
		unary("AddInboundToBatch", StockServer.AddInboundToBatch),
		unary("ConsumeFromBatch", StockServer.ConsumeFromBatch),
		unary("AdjustBatchQuantity", StockServer.AdjustBatchQuantity),
		unary("ListStockBatches", StockServer.ListStockBatches),
		unary("ListItemsWithBatches", StockServer.ListItemsWithBatches),
		unary("ListItemsForPlanMode", StockServer.ListItemsForPlanMode),
		unary("ListBatchesForItem", StockServer.ListBatchesForItem),
	},
	Streams: []grpc.StreamDesc{},
}
