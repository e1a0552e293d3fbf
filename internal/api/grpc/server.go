// Package grpcapi serves the draft pipeline over gRPC. Messages use the
// protobuf well-known types: requests and responses are Struct values shaped
// like the HTTP JSON bodies, and dictation audio streams as BytesValue
// frames.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/service/audio"
	"voice-invoice-service/internal/service/catalog"
	"voice-invoice-service/internal/service/dictation"
	"voice-invoice-service/internal/service/extraction"
	"voice-invoice-service/internal/service/pipeline"
	"voice-invoice-service/internal/service/resolution"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "voiceinvoice.v1.DraftService"

// DictationFactory creates a capture session with its audio feed.
type DictationFactory func(sessionID string, opts ...dictation.Option) (*dictation.Session, *audio.Feed)

// Server implements the draft service.
type Server struct {
	pipeline     *pipeline.Service
	newDictation DictationFactory
}

// draftService is the handler type checked by grpc.Server.RegisterService.
type draftService interface {
	ResolveTranscript(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetDraft(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SelectClient(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SelectProduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Finalize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamDictation(stream grpc.ServerStream) error
}

// ServiceDesc describes the draft service for grpc.Server and clients.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*draftService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ResolveTranscript", Handler: unary("ResolveTranscript", draftService.ResolveTranscript)},
		{MethodName: "GetDraft", Handler: unary("GetDraft", draftService.GetDraft)},
		{MethodName: "SelectClient", Handler: unary("SelectClient", draftService.SelectClient)},
		{MethodName: "SelectProduct", Handler: unary("SelectProduct", draftService.SelectProduct)},
		{MethodName: "Finalize", Handler: unary("Finalize", draftService.Finalize)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamDictation",
			Handler:       func(srv any, stream grpc.ServerStream) error { return srv.(draftService).StreamDictation(stream) },
			ClientStreams: true,
		},
	},
	Metadata: "voiceinvoice/v1/draft.proto",
}

// Register installs the draft service on g. newDictation may be nil, in
// which case StreamDictation reports Unimplemented.
func Register(g *grpc.Server, p *pipeline.Service, newDictation DictationFactory) *Server {
	s := &Server{
		pipeline:     p,
		newDictation: newDictation,
	}
	g.RegisterService(&ServiceDesc, s)
	return s
}

func unary(method string, fn func(draftService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(draftService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(srv.(draftService), ctx, req.(*structpb.Struct))
		})
	}
}

// ResolveTranscript processes {"transcript"} into a new draft record.
func (s *Server) ResolveTranscript(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := s.pipeline.Process(ctx, stringField(req, "transcript"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(rec)
}

// GetDraft returns the record for {"id"}.
func (s *Server) GetDraft(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := s.pipeline.Get(stringField(req, "id"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(rec)
}

// SelectClient applies {"id", "clientId"}.
func (s *Server) SelectClient(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	clientID := stringField(req, "clientId")
	if clientID == "" {
		return nil, status.Error(codes.InvalidArgument, "clientId is required")
	}
	rec, err := s.pipeline.SelectClient(ctx, stringField(req, "id"), clientID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(rec)
}

// SelectProduct applies {"id", "line", "productId"}.
func (s *Server) SelectProduct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	productID := stringField(req, "productId")
	if productID == "" {
		return nil, status.Error(codes.InvalidArgument, "productId is required")
	}
	line, ok := req.GetFields()["line"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "line is required")
	}
	rec, err := s.pipeline.SelectProduct(ctx, stringField(req, "id"), int(line.GetNumberValue()), productID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(rec)
}

// Finalize turns the draft {"id"} into an invoice.
func (s *Server) Finalize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	inv, err := s.pipeline.Finalize(ctx, stringField(req, "id"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(inv)
}

// StreamDictation captures one take from the streamed audio frames. When the
// client closes its side the take is stopped, and the resolved draft is
// returned once the session settles.
func (s *Server) StreamDictation(stream grpc.ServerStream) error {
	if s.newDictation == nil {
		return status.Error(codes.Unimplemented, "dictation is not configured")
	}
	ctx := stream.Context()
	sessionID := uuid.NewString()
	logger := logging.WithSession("grpc.dictation", sessionID)

	settled := make(chan dictation.Settlement, 1)
	session, feed := s.newDictation(sessionID, dictation.WithSettledHandler(func(st dictation.Settlement) {
		select {
		case settled <- st:
		default:
		}
	}))
	defer feed.Close()
	defer session.Close()

	feed.BeginTake()
	if err := session.Start(ctx); err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	logger.Info().Msg("Dictation stream started")

	for {
		frame := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(frame)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := feed.Send(frame.GetValue()); errors.Is(err, audio.ErrLimitExceeded) {
			session.Stop()
			return status.Error(codes.ResourceExhausted, err.Error())
		}
	}

	session.Stop()
	var st dictation.Settlement
	select {
	case st = <-settled:
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
	logger.Info().Str("takeId", st.TakeID).Int("restarts", st.Restarts).Msg("Dictation stream settled")

	if st.Failed() {
		return status.Error(codes.Aborted, st.Err.UserMessage())
	}
	rec, err := s.pipeline.HandleSettlement(ctx, nil, st)
	if err != nil {
		return toStatus(err)
	}
	if rec == nil {
		return status.Error(codes.InvalidArgument, "no speech was captured")
	}
	out, err := toStruct(rec)
	if err != nil {
		return err
	}
	return stream.SendMsg(out)
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// toStruct converts v through its JSON form so gRPC and HTTP clients see the
// same field names.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps service errors to gRPC status codes.
func toStatus(err error) error {
	var fe *resolution.FinalizationError
	var xe *extraction.ExtractionFailedError
	switch {
	case errors.Is(err, extraction.ErrEmptyTranscript):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, extraction.ErrExtractionInFlight):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, pipeline.ErrDraftNotFound),
		errors.Is(err, pipeline.ErrCandidateNotFound),
		errors.Is(err, resolution.ErrLineOutOfRange):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, pipeline.ErrDraftFinalized), errors.As(err, &fe):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, catalog.ErrNotLoaded):
		return status.Error(codes.Unavailable, err.Error())
	case errors.As(err, &xe):
		return status.Error(codes.Unavailable, xe.Message)
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
