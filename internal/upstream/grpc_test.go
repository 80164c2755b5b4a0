package upstream

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/gqlforge/internal/ir"
)

func greeterMethod(t *testing.T) protoreflect.MethodDescriptor {
	t.Helper()
	req := protobuilder.NewMessage("HelloRequest")
	req.AddField(protobuilder.NewField("name", protobuilder.FieldTypeScalar(protoreflect.StringKind)))
	reply := protobuilder.NewMessage("HelloReply")
	reply.AddField(protobuilder.NewField("message", protobuilder.FieldTypeScalar(protoreflect.StringKind)))

	svc := protobuilder.NewService("Greeter")
	svc.AddMethod(protobuilder.NewMethod("SayHello",
		protobuilder.RpcTypeMessage(req, false),
		protobuilder.RpcTypeMessage(reply, false),
	))

	fb := protobuilder.NewFile("demo/greeter.proto")
	fb.SetPackageName("demo")
	fb.SetSyntax(protoreflect.Proto3)
	fb.AddMessage(req)
	fb.AddMessage(reply)
	fb.AddService(svc)

	fd, err := fb.Build()
	require.NoError(t, err)
	return fd.Services().ByName("Greeter").Methods().ByName("SayHello")
}

// serveGreeter answers SayHello with "hello <name>", appending the
// x-tenant metadata when present.
func serveGreeter(t *testing.T, md protoreflect.MethodDescriptor) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != "/demo.Greeter/SayHello" {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}
		in := dynamicpb.NewMessage(md.Input())
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		name := in.Get(md.Input().Fields().ByName("name")).String()
		if name == "" {
			return status.Error(codes.InvalidArgument, "name is required")
		}
		msg := "hello " + name
		if incoming, ok := metadata.FromIncomingContext(stream.Context()); ok {
			if tenant := incoming.Get("x-tenant"); len(tenant) > 0 {
				msg += " from " + strings.Join(tenant, ",")
			}
		}
		out := dynamicpb.NewMessage(md.Output())
		out.Set(md.Output().Fields().ByName("message"), protoreflect.ValueOfString(msg))
		return stream.SendMsg(out)
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return "http://" + lis.Addr().String()
}

func TestGRPCCall(t *testing.T) {
	md := greeterMethod(t)
	target := serveGreeter(t, md)

	c := NewGRPCClient()
	defer c.Close()

	resp, err := c.Call(context.Background(), &ir.GRPCRequest{
		Target: target,
		Method: md,
		Header: map[string][]string{"X-Tenant": {"acme"}},
		Body:   []byte(`{"name": "ann"}`),
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"message": "hello ann from acme"}, resp.Body)

	// The connection returned to the pool is reused.
	resp, err = c.Call(context.Background(), &ir.GRPCRequest{Target: target, Method: md, Body: []byte(`{"name": "bob"}`)})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"message": "hello bob"}, resp.Body)
	require.Len(t, c.pools, 1)
}

func TestGRPCStatusError(t *testing.T) {
	md := greeterMethod(t)
	target := serveGreeter(t, md)

	c := NewGRPCClient()
	defer c.Close()

	_, err := c.Call(context.Background(), &ir.GRPCRequest{Target: target, Method: md, Body: []byte(`{}`)})
	require.Error(t, err)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCRejectsInvalidBody(t *testing.T) {
	md := greeterMethod(t)
	c := NewGRPCClient()
	defer c.Close()

	_, err := c.Call(context.Background(), &ir.GRPCRequest{Target: "localhost:1", Method: md, Body: []byte(`{"nope": 1}`)})
	require.ErrorContains(t, err, "encode demo.HelloRequest request")
	require.Empty(t, c.pools)
}

func TestGRPCClosed(t *testing.T) {
	c := NewGRPCClient()
	require.NoError(t, c.Close())
	_, err := c.Call(context.Background(), &ir.GRPCRequest{Target: "localhost:1", Method: greeterMethod(t), Body: []byte(`{}`)})
	require.ErrorContains(t, err, "closed")
}

func TestEndpointOf(t *testing.T) {
	require.Equal(t, "localhost:50051", endpointOf("http://localhost:50051"))
	require.Equal(t, "localhost:50051", endpointOf("localhost:50051"))
}
