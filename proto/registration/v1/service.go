package registrationv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "registration.v1.RegistrationService"

	RegistrationService_CreatePendingRegistration_FullMethodName = "/registration.v1.RegistrationService/CreatePendingRegistration"
	RegistrationService_LinkRegistration_FullMethodName          = "/registration.v1.RegistrationService/LinkRegistration"
	RegistrationService_GetPaymentStatus_FullMethodName          = "/registration.v1.RegistrationService/GetPaymentStatus"
)

// RegistrationServiceClient — клиент сервиса регистраций.
type RegistrationServiceClient interface {
	CreatePendingRegistration(ctx context.Context, in *CreatePendingRegistrationRequest, opts ...grpc.CallOption) (*CreatePendingRegistrationResponse, error)
	LinkRegistration(ctx context.Context, in *LinkRegistrationRequest, opts ...grpc.CallOption) (*LinkRegistrationResponse, error)
	GetPaymentStatus(ctx context.Context, in *GetPaymentStatusRequest, opts ...grpc.CallOption) (*GetPaymentStatusResponse, error)
}

type registrationServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRegistrationServiceClient создаёт клиент; JSON-кодек подставляется в каждый вызов.
func NewRegistrationServiceClient(cc grpc.ClientConnInterface) RegistrationServiceClient {
	return &registrationServiceClient{cc: cc}
}

func (c *registrationServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	callOpts := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, callOpts...)
}

func (c *registrationServiceClient) CreatePendingRegistration(ctx context.Context, in *CreatePendingRegistrationRequest, opts ...grpc.CallOption) (*CreatePendingRegistrationResponse, error) {
	out := new(CreatePendingRegistrationResponse)
	if err := c.invoke(ctx, RegistrationService_CreatePendingRegistration_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registrationServiceClient) LinkRegistration(ctx context.Context, in *LinkRegistrationRequest, opts ...grpc.CallOption) (*LinkRegistrationResponse, error) {
	out := new(LinkRegistrationResponse)
	if err := c.invoke(ctx, RegistrationService_LinkRegistration_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registrationServiceClient) GetPaymentStatus(ctx context.Context, in *GetPaymentStatusRequest, opts ...grpc.CallOption) (*GetPaymentStatusResponse, error) {
	out := new(GetPaymentStatusResponse)
	if err := c.invoke(ctx, RegistrationService_GetPaymentStatus_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// RegistrationServiceServer — серверная часть сервиса регистраций.
type RegistrationServiceServer interface {
	CreatePendingRegistration(context.Context, *CreatePendingRegistrationRequest) (*CreatePendingRegistrationResponse, error)
	LinkRegistration(context.Context, *LinkRegistrationRequest) (*LinkRegistrationResponse, error)
	GetPaymentStatus(context.Context, *GetPaymentStatusRequest) (*GetPaymentStatusResponse, error)
}

// UnimplementedRegistrationServiceServer отвечает Unimplemented на все методы.
type UnimplementedRegistrationServiceServer struct{}

func (UnimplementedRegistrationServiceServer) CreatePendingRegistration(context.Context, *CreatePendingRegistrationRequest) (*CreatePendingRegistrationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreatePendingRegistration not implemented")
}

func (UnimplementedRegistrationServiceServer) LinkRegistration(context.Context, *LinkRegistrationRequest) (*LinkRegistrationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method LinkRegistration not implemented")
}

func (UnimplementedRegistrationServiceServer) GetPaymentStatus(context.Context, *GetPaymentStatusRequest) (*GetPaymentStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetPaymentStatus not implemented")
}

// RegisterRegistrationServiceServer регистрирует реализацию на сервере.
func RegisterRegistrationServiceServer(s grpc.ServiceRegistrar, srv RegistrationServiceServer) {
	s.RegisterService(&RegistrationService_ServiceDesc, srv)
}

// unaryHandler строит обработчик метода с поддержкой interceptor'ов.
func unaryHandler[Req any, Resp any](fullMethod string, call func(RegistrationServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RegistrationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RegistrationServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegistrationService_ServiceDesc — дескриптор сервиса для grpc.Server.
var RegistrationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistrationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreatePendingRegistration",
			Handler: unaryHandler(RegistrationService_CreatePendingRegistration_FullMethodName,
				RegistrationServiceServer.CreatePendingRegistration),
		},
		{
			MethodName: "LinkRegistration",
			Handler: unaryHandler(RegistrationService_LinkRegistration_FullMethodName,
				RegistrationServiceServer.LinkRegistration),
		},
		{
			MethodName: "GetPaymentStatus",
			Handler: unaryHandler(RegistrationService_GetPaymentStatus_FullMethodName,
				RegistrationServiceServer.GetPaymentStatus),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "registration/v1/registration.proto",
}
