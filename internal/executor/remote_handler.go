// Package executor adapts the dispatcher.Handler capability (SPEC_FULL.md
// §4.6) to run out-of-process over gRPC, grounded on the teacher's
// internal/executor/remote.go RemoteInvoker (dial once, wrap every call)
// and internal/executor/invoker.go's Invoker abstraction — generalized from
// "invoke a sandboxed function" to "handle a claimed outbox/inbox message",
// since both are a single-method, context-and-payload-in / error-out
// capability.
package executor

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/oriys/relay/internal/dispatcher"
	relaygrpc "github.com/oriys/relay/internal/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// RemoteHandler implements dispatcher.Handler by forwarding Handle calls to
// an out-of-process executor over gRPC. It satisfies the same one-method
// interface as a local HandlerFunc, so the Resolver and dispatcher never
// know the difference (SPEC_FULL.md §4.6, "both satisfy the same
// one-method interface").
type RemoteHandler struct {
	topic  string
	conn   *grpc.ClientConn
	client relaygrpc.HandlerServiceClient
}

// NewRemoteHandler dials addr once and returns a Handler bound to topic.
// Multiple topics routed to the same executor process should share one
// dialed connection; callers construct one RemoteHandler per topic but may
// pass the same *grpc.ClientConn via NewRemoteHandlerFromConn to avoid
// redialing.
func NewRemoteHandler(topic, addr string) (*RemoteHandler, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial remote handler executor %s: %w", addr, err)
	}
	return NewRemoteHandlerFromConn(topic, conn), nil
}

// NewRemoteHandlerFromConn builds a RemoteHandler over an already-dialed
// connection, letting several topics share one TCP/HTTP2 connection to the
// same executor.
func NewRemoteHandlerFromConn(topic string, conn *grpc.ClientConn) *RemoteHandler {
	return &RemoteHandler{topic: topic, conn: conn, client: relaygrpc.NewHandlerServiceClient(conn)}
}

var _ dispatcher.Handler = (*RemoteHandler)(nil)

func (h *RemoteHandler) Topic() string { return h.topic }

// Handle marshals msg into a structpb.Struct, invokes the remote Handle
// RPC, and maps a {ok:false, error:"..."} response back to a Go error so
// the dispatcher's Reschedule/Fail path treats a remote failure exactly
// like a local handler's returned error.
func (h *RemoteHandler) Handle(ctx context.Context, msg dispatcher.Message) error {
	req, err := structpb.NewStruct(map[string]interface{}{
		"id":       msg.ID,
		"topic":    msg.Topic,
		"payload":  base64.StdEncoding.EncodeToString(msg.Payload),
		"attempts": float64(msg.Attempts),
	})
	if err != nil {
		return fmt.Errorf("encode remote handle request: %w", err)
	}

	resp, err := h.client.Handle(ctx, req)
	if err != nil {
		return fmt.Errorf("remote handle %s: %w", h.topic, err)
	}

	if resp.Fields["ok"].GetBoolValue() {
		return nil
	}
	if errMsg := resp.Fields["error"].GetStringValue(); errMsg != "" {
		return fmt.Errorf("remote handler %s: %s", h.topic, errMsg)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (h *RemoteHandler) Close() error {
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}
