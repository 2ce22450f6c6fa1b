package protocol

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Discover asks the server for the file defining service and returns its
// descriptor. It issues a single FileContainingSymbol request over the
// reflection v1 stream.
func Discover(ctx context.Context, conn grpc.ClientConnInterface, service string) (protoreflect.ServiceDescriptor, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := rpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening reflection stream: %w", err)
	}

	err = stream.Send(&rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: service},
	})
	if err != nil {
		return nil, fmt.Errorf("sending reflection request: %w", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("receiving reflection response: %w", err)
	}
	_ = stream.CloseSend()

	if e := resp.GetErrorResponse(); e != nil {
		return nil, fmt.Errorf("reflection: %s (code %d)", e.GetErrorMessage(), e.GetErrorCode())
	}
	fdr := resp.GetFileDescriptorResponse()
	if fdr == nil || len(fdr.GetFileDescriptorProto()) == 0 {
		return nil, errors.New("reflection: empty file descriptor response")
	}

	set := &descriptorpb.FileDescriptorSet{}
	for _, raw := range fdr.GetFileDescriptorProto() {
		fdp := new(descriptorpb.FileDescriptorProto)
		if err := proto.Unmarshal(raw, fdp); err != nil {
			return nil, fmt.Errorf("reflection: decoding file descriptor: %w", err)
		}
		set.File = append(set.File, fdp)
	}
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, fmt.Errorf("reflection: building descriptors: %w", err)
	}

	d, err := files.FindDescriptorByName(protoreflect.FullName(service))
	if err != nil {
		return nil, fmt.Errorf("reflection: %w", err)
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("reflection: %s is not a service", service)
	}
	return sd, nil
}
