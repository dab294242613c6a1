package executor

import (
	"context"
	"encoding/base64"

	"github.com/oriys/relay/internal/dispatcher"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server hosts a dispatcher.Resolver's handlers behind the gRPC
// HandlerServiceServer contract, letting a separate process run the actual
// handler logic while the dispatcher daemon holds only RemoteHandler
// client stubs pointed at it — the split the teacher calls "Nova" (daemon)
// vs. "Comet" (executor) in internal/executor/remote.go, generalized here
// to "dispatcher" vs. "executor".
type Server struct {
	resolver *dispatcher.Resolver
}

// NewServer wraps resolver for gRPC-side dispatch.
func NewServer(resolver *dispatcher.Resolver) *Server {
	return &Server{resolver: resolver}
}

// Handle decodes the wire request, resolves the handler for its topic, and
// invokes it, mapping the result back into the {ok, error} response shape
// RemoteHandler.Handle expects.
func (s *Server) Handle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	topic := req.Fields["topic"].GetStringValue()
	id := req.Fields["id"].GetStringValue()
	attempts := int(req.Fields["attempts"].GetNumberValue())
	payload, err := base64.StdEncoding.DecodeString(req.Fields["payload"].GetStringValue())
	if err != nil {
		return structpb.NewStruct(map[string]interface{}{"ok": false, "error": "decode payload: " + err.Error()})
	}

	handler, ok := s.resolver.TryResolve(topic)
	if !ok {
		return structpb.NewStruct(map[string]interface{}{"ok": false, "error": "no handler for topic " + topic})
	}

	msg := dispatcher.Message{ID: id, Topic: topic, Payload: payload, Attempts: attempts}
	if err := handler.Handle(ctx, msg); err != nil {
		return structpb.NewStruct(map[string]interface{}{"ok": false, "error": err.Error()})
	}
	return structpb.NewStruct(map[string]interface{}{"ok": true})
}
