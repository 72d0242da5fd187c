package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zero-day-ai/annotator"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "annotator.v1.Annotator"

const (
	annotateCurieMethod = "/" + ServiceName + "/AnnotateCurie"
	annotateGraphMethod = "/" + ServiceName + "/AnnotateGraph"
)

// AnnotatorServer is the server API for the annotator.v1.Annotator service.
//
// AnnotateCurie takes {"curie": "...", "raw": bool, "fields": "a,b" | ["a","b"]}
// and returns {curie: [records]}.
//
// AnnotateGraph takes a TRAPI body ({"message": {...}}) with optional
// "append", "raw" and "fields" keys beside "message", and returns the
// annotated node map.
type AnnotatorServer interface {
	AnnotateCurie(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnnotateGraph(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAnnotatorServer registers srv with s.
func RegisterAnnotatorServer(s grpc.ServiceRegistrar, srv AnnotatorServer) {
	s.RegisterService(&annotatorServiceDesc, srv)
}

// RegisterGRPC registers the annotator.v1.Annotator service backed by a.
func RegisterGRPC(s grpc.ServiceRegistrar, a Annotator, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	RegisterAnnotatorServer(s, &grpcService{annotator: a, logger: logger})
}

var annotatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnnotatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnnotateCurie", Handler: annotateCurieHandler},
		{MethodName: "AnnotateGraph", Handler: annotateGraphHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "annotator/v1/annotator.proto",
}

func annotateCurieHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnnotatorServer).AnnotateCurie(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: annotateCurieMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnnotatorServer).AnnotateCurie(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func annotateGraphHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnnotatorServer).AnnotateGraph(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: annotateGraphMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnnotatorServer).AnnotateGraph(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AnnotatorClient calls the annotator.v1.Annotator service.
type AnnotatorClient struct {
	cc grpc.ClientConnInterface
}

// NewAnnotatorClient returns a client over cc.
func NewAnnotatorClient(cc grpc.ClientConnInterface) *AnnotatorClient {
	return &AnnotatorClient{cc: cc}
}

// AnnotateCurie calls annotator.v1.Annotator/AnnotateCurie.
func (c *AnnotatorClient) AnnotateCurie(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, annotateCurieMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AnnotateGraph calls annotator.v1.Annotator/AnnotateGraph.
func (c *AnnotatorClient) AnnotateGraph(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, annotateGraphMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type grpcService struct {
	annotator Annotator
	logger    *slog.Logger
}

func (s *grpcService) AnnotateCurie(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()

	id, _ := m["curie"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "missing required input curie id")
	}

	opts, err := structOptions(m, false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.annotator.AnnotateCurie(ctx, id, opts)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return toStruct(res)
}

func (s *grpcService) AnnotateGraph(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m := req.AsMap()

	opts, err := structOptions(m, true)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	delete(m, "append")
	delete(m, "raw")
	delete(m, "fields")

	nodes, err := s.annotator.AnnotateGraph(ctx, m, opts)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}
	return toStruct(nodes)
}

func (s *grpcService) statusError(ctx context.Context, err error) error {
	st := grpcStatus(err)
	if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
		s.logger.ErrorContext(ctx, "annotation failed", "error", err, "kind", annotator.KindOf(err))
	}
	return st.Err()
}

// grpcStatus maps an annotator error onto a gRPC status.
func grpcStatus(err error) *status.Status {
	switch {
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	}

	switch annotator.KindOf(err) {
	case annotator.KindValidation:
		return status.New(codes.InvalidArgument, err.Error())
	case annotator.KindNotFound:
		return status.New(codes.NotFound, err.Error())
	case annotator.KindNetwork:
		return status.New(codes.Unavailable, err.Error())
	default:
		return status.New(codes.Internal, err.Error())
	}
}

func structOptions(m map[string]any, allowAppend bool) (annotator.AnnotateOptions, error) {
	var opts annotator.AnnotateOptions

	raw, err := structBool(m, "raw")
	if err != nil {
		return opts, err
	}
	opts.Raw = raw

	if allowAppend {
		if opts.Append, err = structBool(m, "append"); err != nil {
			return opts, err
		}
	}

	switch v := m["fields"].(type) {
	case nil:
	case string:
		opts.Fields = splitFields(v)
	case []any:
		for _, f := range v {
			s, ok := f.(string)
			if !ok {
				return opts, fmt.Errorf("fields must be strings, got %T", f)
			}
			if s = strings.TrimSpace(s); s != "" {
				opts.Fields = append(opts.Fields, s)
			}
		}
	default:
		return opts, fmt.Errorf("fields must be a string or list, got %T", v)
	}

	return opts, nil
}

func structBool(m map[string]any, key string) (bool, error) {
	switch v := m[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, fmt.Errorf("%s must be a bool, got %T", key, v)
	}
}

// toStruct converts a JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func (m *metrics) unaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		m.grpcRequests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}
