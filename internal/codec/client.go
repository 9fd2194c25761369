package codec

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
)

// #region client-struct
// RemoteEngine is an engine.Engine backed by a remote sampling service.
type RemoteEngine struct {
	conn   *grpc.ClientConn
	client SamplingServiceClient
}

// #endregion client-struct

// #region constructor
// NewRemoteEngine connects to the sampling service at addr.
func NewRemoteEngine(addr string, opts ...grpc.DialOption) (*RemoteEngine, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageBytes),
			grpc.MaxCallSendMsgSize(MaxMessageBytes),
		),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteEngine{
		conn:   conn,
		client: NewSamplingServiceClient(conn),
	}, nil
}

// NewRemoteEngineWithService creates a RemoteEngine with an injected service
// implementation. Used for testing without a real gRPC connection.
func NewRemoteEngineWithService(svc SamplingServiceClient) *RemoteEngine {
	return &RemoteEngine{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (e *RemoteEngine) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

// #endregion close

// #region sample
// Sample validates the request locally, ships it to the service and decodes
// the returned matrix. RPC errors keep their gRPC status.
func (e *RemoteEngine) Sample(ctx context.Context, req *engine.Request) (*engine.Samples, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	in, err := toStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	resp, err := e.client.Sample(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("sample rpc: %w", err)
	}
	var out engine.Samples
	if err := fromStruct(resp, &out); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	if len(out.Chains) != len(req.Inits) {
		return nil, fmt.Errorf("decode samples: got %d chains, want %d", len(out.Chains), len(req.Inits))
	}
	return &out, nil
}

// #endregion sample

// #region struct-codec
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// #endregion struct-codec
