package explain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExplainMethod is the full gRPC method name of the explain service.
const ExplainMethod = "/kryptictrack.explain.v1.ExplainService/Explain"

// #region service
// ExplainService is the client side of the explain RPC. Requests and
// responses are google.protobuf.Struct documents.
type ExplainService interface {
	Explain(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type explainServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewExplainServiceClient returns an ExplainService bound to cc.
func NewExplainServiceClient(cc grpc.ClientConnInterface) ExplainService {
	return &explainServiceClient{cc: cc}
}

func (c *explainServiceClient) Explain(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExplainMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
// #endregion service

// #region client
// GRPCExplainer asks a remote explain service for the explanation text.
type GRPCExplainer struct {
	conn    *grpc.ClientConn
	client  ExplainService
	timeout time.Duration
}

// NewGRPCExplainer connects to the explain service at addr.
func NewGRPCExplainer(addr string, timeout time.Duration) (*GRPCExplainer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCExplainer{conn: conn, client: NewExplainServiceClient(conn), timeout: timeout}, nil
}

// NewGRPCExplainerWithService wraps an existing service client.
func NewGRPCExplainerWithService(svc ExplainService) *GRPCExplainer {
	return &GRPCExplainer{client: svc}
}

// Close shuts down the connection when the explainer owns one.
func (g *GRPCExplainer) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

// Explain implements Explainer.
func (g *GRPCExplainer) Explain(ctx context.Context, req Request) (string, error) {
	in, err := requestStruct(req)
	if err != nil {
		return "", fmt.Errorf("encode explain request: %w", err)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.client.Explain(ctx, in)
	if err != nil {
		return "", fmt.Errorf("explain rpc: %w", err)
	}
	text := resp.GetFields()["explanation"].GetStringValue()
	if text == "" {
		return "", errors.New("explain rpc: empty explanation")
	}
	return text, nil
}

func requestStruct(req Request) (*structpb.Struct, error) {
	history := make([]any, len(req.RecentHistory))
	for i, h := range req.RecentHistory {
		history[i] = map[string]any{"action": h.Action, "source": h.Source, "time_ago": h.TimeAgo}
	}
	return structpb.NewStruct(map[string]any{
		"predicted_action": req.PredictedAction,
		"confidence":       req.Confidence,
		"time_estimate":    req.TimeEstimate,
		"current_state": map[string]any{
			"app":              req.App,
			"duration_minutes": req.DurationMinutes,
			"context":          req.Context,
		},
		"recent_history": history,
	})
}
// #endregion client
