package rpcfunc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/bittoy/reviewpipe/internal/types"
)

const executeMethod = "/reviewpipe.review.ReviewFunctionService/Execute"

// executeRequest/executeResponse mirror review_service_pb2's ExecuteRequest
// and ExecuteResponse fields, kept as plain JSON-tagged structs since the
// JSON codec (see codec.go) stands in for generated protobuf types.
type executeRequest struct {
	FunctionName string `json:"function_name"`
	DataJSON     string `json:"data_json"`
	ArgsJSON     string `json:"args_json"`
	KwargsJSON   string `json:"kwargs_json"`
}

type executeResponse struct {
	Success      bool   `json:"success"`
	ResultJSON   string `json:"result_json"`
	ErrorMessage string `json:"error_message"`
}

// Provider calls a remote review-function service over gRPC. It satisfies
// engine.RemoteProvider structurally, so internal/engine never imports
// grpc.
type Provider struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  types.Logger
}

func NewProvider(conn *grpc.ClientConn, timeout time.Duration, logger types.Logger) *Provider {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Provider{conn: conn, timeout: timeout, logger: logger}
}

func (p *Provider) Call(ctx context.Context, name string, obj types.ContentObject, args []any, kwargs map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dataJSON, err := json.Marshal(obj.ToMap())
	if err != nil {
		return nil, fmt.Errorf("rpcfunc: encode data: %w", err)
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("rpcfunc: encode args: %w", err)
	}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("rpcfunc: encode kwargs: %w", err)
	}

	req := &executeRequest{
		FunctionName: name,
		DataJSON:     string(dataJSON),
		ArgsJSON:     string(argsJSON),
		KwargsJSON:   string(kwargsJSON),
	}
	resp := &executeResponse{}

	if err := p.conn.Invoke(ctx, executeMethod, req, resp, grpc.CallContentSubtype(codecName)); err != nil {
		p.logger.Errorf("rpcfunc: call %s failed: %v", name, err)
		return nil, fmt.Errorf("rpcfunc: invoke %s: %w", name, err)
	}
	if !resp.Success {
		p.logger.Warnf("rpcfunc: remote function %s failed: %s", name, resp.ErrorMessage)
		return nil, fmt.Errorf("rpcfunc: %s: %s", name, resp.ErrorMessage)
	}

	var result any
	if err := json.Unmarshal([]byte(resp.ResultJSON), &result); err != nil {
		return nil, fmt.Errorf("rpcfunc: decode result: %w", err)
	}
	return result, nil
}
