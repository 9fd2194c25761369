package codec

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
)

// #region server
// Server exposes an engine.Engine as the sampling service.
type Server struct {
	engine engine.Engine
	logger *zap.Logger
}

// NewServer wraps eng. A nil logger disables logging.
func NewServer(eng engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: eng, logger: logger}
}

// NewGRPCServer returns a grpc.Server with the sampling service registered
// and message limits sized for sample matrices.
func NewGRPCServer(eng engine.Engine, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageBytes),
		grpc.MaxSendMsgSize(MaxMessageBytes),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterSamplingServiceServer(s, NewServer(eng, logger))
	return s
}

// Sample decodes the request, runs the wrapped engine and encodes the matrix.
func (s *Server) Sample(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req engine.Request
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	s.logger.Info("sample request",
		zap.Int("n", specN(req.Spec)),
		zap.Int("chains", len(req.Inits)),
		zap.Int("iterations", req.Iterations),
		zap.Int("discard", req.Discard),
		zap.Strings("variables", req.Variables))

	out, err := s.engine.Sample(ctx, &req)
	if err != nil {
		s.logger.Warn("sample failed", zap.Error(err))
		return nil, toStatus(err)
	}
	resp, err := toStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode samples: %v", err)
	}
	return resp, nil
}

// #endregion server

// #region status
func toStatus(err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest), errors.Is(err, model.ErrInvalidSpec):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

func specN(s *model.Specification) int {
	if s == nil {
		return 0
	}
	return s.N
}

// #endregion status
