package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"YokoFund/internal/address"
	"YokoFund/internal/core"
	"YokoFund/internal/event"
	"YokoFund/internal/ingestion"
	"YokoFund/internal/query"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "yoko.v1.LedgerService"

// jsonCodec carries LedgerService messages as JSON. Clients select it with
// grpc.CallContentSubtype("json").
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Submitter queues a signed transaction for the core and waits for its receipt.
type Submitter interface {
	Submit(ctx context.Context, tx *event.Transaction) (*core.Receipt, error)
}

// Querier is the read side served over gRPC and HTTP.
type Querier interface {
	GetFund(ctx context.Context, authority address.Pubkey) (*query.FundResponse, error)
	GetPosition(ctx context.Context, fund, depositor address.Pubkey) (*query.PositionResponse, error)
	GetPayout(ctx context.Context, fund address.Pubkey, counter uint64) (*query.PayoutResponse, error)
	ListPayouts(ctx context.Context, fund address.Pubkey, limit int, beforeCounter *uint64) ([]query.PayoutResponse, error)
	EstimateClaim(ctx context.Context, fund, depositor address.Pubkey, counter uint64) (*query.ClaimEstimate, error)
	GetTransaction(ctx context.Context, txID string) (*query.TransactionResponse, error)
	GetJournal(ctx context.Context, txID string) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

type SubmitTransactionRequest struct {
	Transaction *event.Transaction `json:"transaction"`
}

type SubmitTransactionResponse struct {
	TxID        string  `json:"tx_id"`
	Sequence    int64   `json:"sequence"`
	Duplicate   bool    `json:"duplicate"`
	Status      string  `json:"status,omitempty"`
	StateHash   string  `json:"state_hash,omitempty"`
	Category    string  `json:"category,omitempty"`
	ErrorReason string  `json:"error_reason,omitempty"`
	ErrorCode   *uint32 `json:"error_code,omitempty"`
}

type GetFundRequest struct {
	Authority address.Pubkey `json:"authority"`
}

type GetPositionRequest struct {
	Fund      address.Pubkey `json:"fund"`
	Depositor address.Pubkey `json:"depositor"`
}

type GetPayoutRequest struct {
	Fund    address.Pubkey `json:"fund"`
	Counter uint64         `json:"counter,string"`
}

// LedgerServer is the server API for yoko.v1.LedgerService.
type LedgerServer interface {
	SubmitTransaction(context.Context, *SubmitTransactionRequest) (*SubmitTransactionResponse, error)
	GetFund(context.Context, *GetFundRequest) (*query.FundResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*query.PositionResponse, error)
	GetPayout(context.Context, *GetPayoutRequest) (*query.PayoutResponse, error)
}

// unaryMethod adapts a typed LedgerServer method to a grpc.MethodDesc.
func unaryMethod[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitTransaction", LedgerServer.SubmitTransaction),
		unaryMethod("GetFund", LedgerServer.GetFund),
		unaryMethod("GetPosition", LedgerServer.GetPosition),
		unaryMethod("GetPayout", LedgerServer.GetPayout),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "yoko/v1/ledger",
}

// RegisterLedgerServer registers srv on s.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

type ledgerService struct {
	submit Submitter
	qs     Querier
}

func (s *ledgerService) SubmitTransaction(ctx context.Context, req *SubmitTransactionRequest) (*SubmitTransactionResponse, error) {
	if req.Transaction == nil {
		return nil, status.Error(codes.InvalidArgument, "transaction is required")
	}
	receipt, err := s.submit.Submit(ctx, req.Transaction)
	if err != nil {
		return nil, toStatus(err)
	}
	return newSubmitResponse(receipt), nil
}

func newSubmitResponse(r *core.Receipt) *SubmitTransactionResponse {
	resp := &SubmitTransactionResponse{
		TxID:      r.TxID.String(),
		Sequence:  r.Sequence,
		Duplicate: r.Duplicate,
	}
	if r.Duplicate {
		return resp
	}
	resp.Status = r.Status.String()
	resp.StateHash = hex.EncodeToString(r.StateHash[:])
	if r.Status == event.StatusFailed {
		resp.Category = string(r.Category)
		resp.ErrorReason = r.Reason
		resp.ErrorCode = r.Code
	}
	return resp
}

func (s *ledgerService) GetFund(ctx context.Context, req *GetFundRequest) (*query.FundResponse, error) {
	if req.Authority.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "authority is required")
	}
	resp, err := s.qs.GetFund(ctx, req.Authority)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *ledgerService) GetPosition(ctx context.Context, req *GetPositionRequest) (*query.PositionResponse, error) {
	if req.Fund.IsZero() || req.Depositor.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "fund and depositor are required")
	}
	resp, err := s.qs.GetPosition(ctx, req.Fund, req.Depositor)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *ledgerService) GetPayout(ctx context.Context, req *GetPayoutRequest) (*query.PayoutResponse, error) {
	if req.Fund.IsZero() || req.Counter == 0 {
		return nil, status.Error(codes.InvalidArgument, "fund and a counter >= 1 are required")
	}
	resp, err := s.qs.GetPayout(ctx, req.Fund, req.Counter)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ingestion.ErrMalformed), errors.Is(err, ingestion.ErrSignature):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrNonceGap), errors.Is(err, core.ErrNonceOutOfOrder):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ingestion.ErrShuttingDown):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
