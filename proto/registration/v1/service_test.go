package registrationv1

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

type fakeClientConn struct {
	invoke func(context.Context, string, any, any, ...grpc.CallOption) error
}

func (f *fakeClientConn) Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error {
	if f.invoke == nil {
		return errors.New("unexpected Invoke call")
	}
	return f.invoke(ctx, method, args, reply, opts...)
}

func (f *fakeClientConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not implemented")
}

type grpcTestRegistrationService struct {
	UnimplementedRegistrationServiceServer
}

func (s *grpcTestRegistrationService) CreatePendingRegistration(_ context.Context, req *CreatePendingRegistrationRequest) (*CreatePendingRegistrationResponse, error) {
	return &CreatePendingRegistrationResponse{Registration: &Registration{OrderId: req.GetOrderId(), Status: "AWAITING_PAYMENT"}}, nil
}

func (s *grpcTestRegistrationService) LinkRegistration(_ context.Context, req *LinkRegistrationRequest) (*LinkRegistrationResponse, error) {
	return &LinkRegistrationResponse{OrderId: req.GetOrderId(), Outcome: "LINKED"}, nil
}

func (s *grpcTestRegistrationService) GetPaymentStatus(_ context.Context, req *GetPaymentStatusRequest) (*GetPaymentStatusResponse, error) {
	return &GetPaymentStatusResponse{Registration: &Registration{OrderId: req.GetOrderId(), Status: "COMPLETED"}}, nil
}

func hasJSONSubtype(opts []grpc.CallOption) bool {
	for _, opt := range opts {
		if sub, ok := opt.(grpc.ContentSubtypeCallOption); ok && sub.ContentSubtype == CodecName {
			return true
		}
	}
	return false
}

func TestRegistrationServiceClientMethods(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		methods := map[string]int{}
		conn := &fakeClientConn{
			invoke: func(_ context.Context, method string, _ any, reply any, opts ...grpc.CallOption) error {
				if !hasJSONSubtype(opts) {
					t.Fatalf("%s called without json content subtype", method)
				}
				methods[method]++
				switch out := reply.(type) {
				case *CreatePendingRegistrationResponse:
					out.Registration = &Registration{OrderId: "order-1"}
				case *LinkRegistrationResponse:
					out.Outcome = "LINKED"
				case *GetPaymentStatusResponse:
					out.Registration = &Registration{OrderId: "order-1", Status: "COMPLETED"}
				default:
					t.Fatalf("unexpected reply type: %T", out)
				}
				return nil
			},
		}

		client := NewRegistrationServiceClient(conn)
		ctx := context.Background()
		if _, err := client.CreatePendingRegistration(ctx, &CreatePendingRegistrationRequest{}); err != nil {
			t.Fatalf("CreatePendingRegistration failed: %v", err)
		}
		link, err := client.LinkRegistration(ctx, &LinkRegistrationRequest{})
		if err != nil {
			t.Fatalf("LinkRegistration failed: %v", err)
		}
		if link.GetOutcome() != "LINKED" {
			t.Fatalf("unexpected outcome: %q", link.GetOutcome())
		}
		if _, err := client.GetPaymentStatus(ctx, &GetPaymentStatusRequest{}); err != nil {
			t.Fatalf("GetPaymentStatus failed: %v", err)
		}

		for _, method := range []string{
			RegistrationService_CreatePendingRegistration_FullMethodName,
			RegistrationService_LinkRegistration_FullMethodName,
			RegistrationService_GetPaymentStatus_FullMethodName,
		} {
			if methods[method] != 1 {
				t.Fatalf("expected method %s called exactly once, got %d", method, methods[method])
			}
		}
	})

	t.Run("error", func(t *testing.T) {
		conn := &fakeClientConn{
			invoke: func(context.Context, string, any, any, ...grpc.CallOption) error {
				return status.Error(codes.Internal, "boom")
			},
		}
		client := NewRegistrationServiceClient(conn)
		ctx := context.Background()

		for name, call := range map[string]func() error{
			"CreatePendingRegistration": func() error {
				_, err := client.CreatePendingRegistration(ctx, &CreatePendingRegistrationRequest{})
				return err
			},
			"LinkRegistration": func() error { _, err := client.LinkRegistration(ctx, &LinkRegistrationRequest{}); return err },
			"GetPaymentStatus": func() error { _, err := client.GetPaymentStatus(ctx, &GetPaymentStatusRequest{}); return err },
		} {
			if err := call(); status.Code(err) != codes.Internal {
				t.Fatalf("%s expected Internal error, got %v", name, err)
			}
		}
	})
}

func TestUnimplementedRegistrationServiceServer(t *testing.T) {
	var srv UnimplementedRegistrationServiceServer
	ctx := context.Background()

	for name, call := range map[string]func() error{
		"CreatePendingRegistration": func() error {
			_, err := srv.CreatePendingRegistration(ctx, &CreatePendingRegistrationRequest{})
			return err
		},
		"LinkRegistration": func() error { _, err := srv.LinkRegistration(ctx, &LinkRegistrationRequest{}); return err },
		"GetPaymentStatus": func() error { _, err := srv.GetPaymentStatus(ctx, &GetPaymentStatusRequest{}); return err },
	} {
		if err := call(); status.Code(err) != codes.Unimplemented {
			t.Fatalf("%s expected Unimplemented error, got %v", name, err)
		}
	}
}

func TestServiceHandlers(t *testing.T) {
	srv := &grpcTestRegistrationService{}
	ctx := context.Background()

	for _, desc := range RegistrationService_ServiceDesc.Methods {
		fullMethod := "/" + ServiceName + "/" + desc.MethodName
		t.Run(desc.MethodName, func(t *testing.T) {
			if _, err := desc.Handler(srv, ctx, func(any) error { return errors.New("decode failed") }, nil); err == nil {
				t.Fatalf("expected decode error")
			}

			resp, err := desc.Handler(srv, ctx, decodeRequest, nil)
			if err != nil {
				t.Fatalf("handler without interceptor failed: %v", err)
			}
			if resp == nil {
				t.Fatalf("expected non-nil response")
			}

			interceptorCalled := false
			resp, err = desc.Handler(srv, ctx, decodeRequest, func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
				interceptorCalled = true
				if info.FullMethod != fullMethod {
					t.Fatalf("unexpected full method: got %s want %s", info.FullMethod, fullMethod)
				}
				return handler(ctx, req)
			})
			if err != nil {
				t.Fatalf("handler with interceptor failed: %v", err)
			}
			if !interceptorCalled {
				t.Fatalf("interceptor was not called")
			}
			if resp == nil {
				t.Fatalf("expected non-nil response")
			}
		})
	}
}

func TestRegisterAndServiceDescriptor(t *testing.T) {
	g := grpc.NewServer()
	RegisterRegistrationServiceServer(g, &grpcTestRegistrationService{})

	info, ok := g.GetServiceInfo()[ServiceName]
	if !ok {
		t.Fatalf("service %s is not registered", ServiceName)
	}
	if len(info.Methods) != 3 {
		t.Fatalf("expected 3 methods, got %d", len(info.Methods))
	}
	if RegistrationService_ServiceDesc.Metadata == "" {
		t.Fatalf("metadata should not be empty")
	}
}

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	if codec == nil {
		t.Fatalf("codec %q is not registered", CodecName)
	}

	in := &Registration{
		OrderId:   "order-1",
		Status:    "AWAITING_PAYMENT",
		ExpiresAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
	raw, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Registration
	if err := codec.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.GetOrderId() != "order-1" || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("unexpected decoded registration: %+v", out)
	}
}

func TestCodecWritesTimestampsAsRFC3339(t *testing.T) {
	raw, err := Codec{}.Marshal(&Registration{
		OrderId:   "order-1",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	if wire["created_at"] != "2026-03-01T12:00:00Z" || wire["expires_at"] != "2026-03-01T12:30:00Z" {
		t.Fatalf("timestamps must be RFC 3339 strings, got %s", raw)
	}
}

func decodeRequest(v any) error {
	switch req := v.(type) {
	case *CreatePendingRegistrationRequest:
		req.OrderId = "order-1"
		req.IntendedEntityType = "MEMBER"
	case *LinkRegistrationRequest:
		req.OrderId = "order-1"
		req.EntityId = "member-1"
	case *GetPaymentStatusRequest:
		req.OrderId = "order-1"
	default:
		return status.Errorf(codes.Internal, "unexpected request type: %T", req)
	}
	return nil
}
