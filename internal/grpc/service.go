// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "icedrive.auth.v1.Replica"

// ReplicaServer is the server API for the Replica service.
type ReplicaServer interface {
	Login(context.Context, *CredentialsRequest) (*SessionReply, error)
	NewUser(context.Context, *CredentialsRequest) (*SessionReply, error)
	RemoveUser(context.Context, *CredentialsRequest) (*emptypb.Empty, error)
	VerifyUser(context.Context, *SessionRequest) (*wrapperspb.BoolValue, error)
	SessionUsername(context.Context, *SessionRequest) (*wrapperspb.StringValue, error)
	SessionAlive(context.Context, *SessionRequest) (*wrapperspb.BoolValue, error)
	SessionRefresh(context.Context, *SessionRequest) (*emptypb.Empty, error)
	Respond(context.Context, *RespondRequest) (*emptypb.Empty, error)
	Ping(context.Context, *PingRequest) (*emptypb.Empty, error)
	SelectPeer(context.Context, *SelectPeerRequest) (*SelectPeerReply, error)
}

// Full method names.
const (
	methodLogin           = "/" + ServiceName + "/Login"
	methodNewUser         = "/" + ServiceName + "/NewUser"
	methodRemoveUser      = "/" + ServiceName + "/RemoveUser"
	methodVerifyUser      = "/" + ServiceName + "/VerifyUser"
	methodSessionUsername = "/" + ServiceName + "/SessionUsername"
	methodSessionAlive    = "/" + ServiceName + "/SessionAlive"
	methodSessionRefresh  = "/" + ServiceName + "/SessionRefresh"
	methodRespond         = "/" + ServiceName + "/Respond"
	methodPing            = "/" + ServiceName + "/Ping"
	methodSelectPeer      = "/" + ServiceName + "/SelectPeer"
)

// ServiceDesc describes the Replica service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReplicaServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", methodLogin, ReplicaServer.Login),
		unary("NewUser", methodNewUser, ReplicaServer.NewUser),
		unary("RemoveUser", methodRemoveUser, ReplicaServer.RemoveUser),
		unary("VerifyUser", methodVerifyUser, ReplicaServer.VerifyUser),
		unary("SessionUsername", methodSessionUsername, ReplicaServer.SessionUsername),
		unary("SessionAlive", methodSessionAlive, ReplicaServer.SessionAlive),
		unary("SessionRefresh", methodSessionRefresh, ReplicaServer.SessionRefresh),
		unary("Respond", methodRespond, ReplicaServer.Respond),
		unary("Ping", methodPing, ReplicaServer.Ping),
		unary("SelectPeer", methodSelectPeer, ReplicaServer.SelectPeer),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "icedrive/auth/v1/replica",
}

// RegisterReplicaServer registers srv on s.
func RegisterReplicaServer(s grpc.ServiceRegistrar, srv ReplicaServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name, fullMethod string, call func(ReplicaServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ReplicaServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ReplicaServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
