// Package protocol holds the cache service schema. The harness either uses
// the definition compiled into the binary or resolves it from the server
// through gRPC reflection; both yield a protoreflect.ServiceDescriptor that
// drives dynamic messages, so no generated stubs are needed.
package protocol

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	FileName    = "cache.proto"
	PackageName = "cache"
	ServiceName = PackageName + ".CacheService"

	MethodSet    = "Set"
	MethodGet    = "Get"
	MethodDelete = "Delete"
)

// FullMethod returns the gRPC path of a method, e.g. "/cache.CacheService/Set".
func FullMethod(sd protoreflect.ServiceDescriptor, method string) string {
	return "/" + string(sd.FullName()) + "/" + method
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func method(name string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + PackageName + "." + name + "Request"),
		OutputType: proto.String("." + PackageName + "." + name + "Response"),
	}
}

// FileDescriptorProto returns the cache.proto definition:
//
//	service CacheService {
//	  rpc Set(SetRequest) returns (SetResponse);
//	  rpc Get(GetRequest) returns (GetResponse);
//	  rpc Delete(DeleteRequest) returns (DeleteResponse);
//	}
func FileDescriptorProto() *descriptorpb.FileDescriptorProto {
	const (
		str     = descriptorpb.FieldDescriptorProto_TYPE_STRING
		bytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		boolean = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	)
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(FileName),
		Package: proto.String(PackageName),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("SetRequest", field("key", 1, str), field("value", 2, bytes)),
			message("SetResponse", field("success", 1, boolean), field("message", 2, str)),
			message("GetRequest", field("key", 1, str)),
			message("GetResponse", field("found", 1, boolean), field("message", 2, str), field("value", 3, bytes)),
			message("DeleteRequest", field("key", 1, str)),
			message("DeleteResponse", field("success", 1, boolean), field("message", 2, str)),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("CacheService"),
			Method: []*descriptorpb.MethodDescriptorProto{method(MethodSet), method(MethodGet), method(MethodDelete)},
		}},
	}
}

var compiled = sync.OnceValues(func() (protoreflect.FileDescriptor, error) {
	return protodesc.NewFile(FileDescriptorProto(), new(protoregistry.Files))
})

// File returns the compiled-in cache.proto file descriptor.
func File() (protoreflect.FileDescriptor, error) {
	return compiled()
}

// Compiled returns the compiled-in service descriptor.
func Compiled() (protoreflect.ServiceDescriptor, error) {
	fd, err := File()
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", FileName, err)
	}
	sd := fd.Services().ByName("CacheService")
	if sd == nil {
		return nil, fmt.Errorf("%s: service %s not defined", FileName, ServiceName)
	}
	return sd, nil
}

// Registry returns a file registry containing cache.proto, suitable for a
// reflection server's descriptor resolver.
func Registry() (*protoregistry.Files, error) {
	fd, err := File()
	if err != nil {
		return nil, err
	}
	files := new(protoregistry.Files)
	if err := files.RegisterFile(fd); err != nil {
		return nil, err
	}
	return files, nil
}

// Method looks up a method and checks it has the shape the harness expects.
func Method(sd protoreflect.ServiceDescriptor, name string) (protoreflect.MethodDescriptor, error) {
	md := sd.Methods().ByName(protoreflect.Name(name))
	if md == nil {
		return nil, fmt.Errorf("service %s has no method %s", sd.FullName(), name)
	}
	if md.IsStreamingClient() || md.IsStreamingServer() {
		return nil, fmt.Errorf("method %s is streaming, expected unary", md.FullName())
	}
	return md, nil
}
