package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"

	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const grpcServiceName = "deckhand.a2a.v1.AgentService"

// jsonCodec carries the same JSON documents as the HTTP transport, so no
// generated protobuf types are needed.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

type AgentServiceServer interface {
	SendMessage(ctx context.Context, msg *Message) (*Task, error)
	SendMessageStreaming(msg *Message, stream grpc.ServerStream) error
}

var agentServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendMessage", Handler: sendMessageHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SendMessageStreaming", Handler: sendMessageStreamingHandler, ServerStreams: true},
	},
	Metadata: "deckhand/a2a.json",
}

func sendMessageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + grpcServiceName + "/SendMessage"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).SendMessage(ctx, req.(*Message))
	}
	return interceptor(ctx, in, info, handler)
}

func sendMessageStreamingHandler(srv any, stream grpc.ServerStream) error {
	in := new(Message)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AgentServiceServer).SendMessageStreaming(in, stream)
}

// GRPCServer serves an Executor over gRPC.
type GRPCServer struct {
	card   *AgentCard
	exec   Executor
	logger *slog.Logger
	server *grpc.Server
}

func NewGRPCServer(card *AgentCard, exec Executor, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &GRPCServer{
		card:   card,
		exec:   exec,
		logger: logger,
		server: grpc.NewServer(grpc.ForceServerCodec(jsonCodec{})),
	}
	s.server.RegisterService(&agentServiceDesc, s)
	return s
}

// Serve accepts connections on ln until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		s.server.GracefulStop()
	}()
	s.logger.Info("grpc agent listening", slog.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("a2a: grpc serve: %w", err)
	}
	return nil
}

func (s *GRPCServer) Stop() { s.server.Stop() }

func (s *GRPCServer) SendMessage(ctx context.Context, msg *Message) (*Task, error) {
	if err := msg.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	task := &Task{ID: msg.MessageID, ContextID: msg.ContextID, State: TaskStateWorking}
	for c := range Seal(ctx, msg.MessageID, s.exec.Execute(ctx, *msg)) {
		if !c.IsTerminal() {
			continue
		}
		task.Result = c.Result
		task.Error = c.Error
		task.State = TaskStateCompleted
		if c.Failed() {
			task.State = TaskStateFailed
		}
	}
	return task, nil
}

func (s *GRPCServer) SendMessageStreaming(msg *Message, stream grpc.ServerStream) error {
	if err := msg.Validate(); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if !s.card.Capabilities.Streaming {
		return status.Error(codes.Unimplemented, ErrStreamingUnsupported.Error())
	}
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	var sendErr error
	for c := range Seal(ctx, msg.MessageID, s.exec.Execute(ctx, *msg)) {
		if sendErr != nil {
			continue
		}
		if err := stream.SendMsg(&c); err != nil {
			sendErr = err
			cancel()
		}
	}
	return sendErr
}

// GRPCClient invokes agents whose card URL uses the grpc:// scheme.
// Connections are cached per host.
type GRPCClient struct {
	mu       sync.Mutex
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
}

func NewGRPCClient(opts ...grpc.DialOption) *GRPCClient {
	return &GRPCClient{
		conns: make(map[string]*grpc.ClientConn),
		dialOpts: append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		}, opts...),
	}
}

func (c *GRPCClient) conn(rawURL string) (*grpc.ClientConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("a2a: parsing %q: %w", rawURL, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[u.Host]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient("passthrough:///"+u.Host, c.dialOpts...)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", URL: rawURL, Err: err}
	}
	c.conns[u.Host] = cc
	return cc, nil
}

func (c *GRPCClient) Stream(ctx context.Context, card *AgentCard, msg Message) (Stream, error) {
	if !card.Capabilities.Streaming {
		return nil, fmt.Errorf("%s: %w", card.Name, ErrStreamingUnsupported)
	}
	cc, err := c.conn(card.URL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	cs, err := cc.NewStream(ctx, &agentServiceDesc.Streams[0], "/"+grpcServiceName+"/SendMessageStreaming")
	if err != nil {
		cancel()
		return nil, &ConnectionError{Op: "stream", URL: card.URL, Err: err}
	}
	if err := cs.SendMsg(&msg); err != nil {
		cancel()
		return nil, &ConnectionError{Op: "stream", URL: card.URL, Err: err}
	}
	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, &ConnectionError{Op: "stream", URL: card.URL, Err: err}
	}
	return &grpcStream{ctx: ctx, cancel: cancel, url: card.URL, cs: cs}, nil
}

func (c *GRPCClient) Send(ctx context.Context, card *AgentCard, msg Message) (*Message, error) {
	cc, err := c.conn(card.URL)
	if err != nil {
		return nil, err
	}
	var task Task
	if err := cc.Invoke(ctx, "/"+grpcServiceName+"/SendMessage", &msg, &task); err != nil {
		return nil, &ConnectionError{Op: "send", URL: card.URL, Err: err}
	}
	return taskResult(&task)
}

func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for host, cc := range c.conns {
		errs = append(errs, cc.Close())
		delete(c.conns, host)
	}
	return errors.Join(errs...)
}

type grpcStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
	cs     grpc.ClientStream
	done   bool
}

func (s *grpcStream) Recv() (StreamChunk, error) {
	if s.done {
		return StreamChunk{}, io.EOF
	}
	var c StreamChunk
	if err := s.cs.RecvMsg(&c); err != nil {
		s.done = true
		s.cancel()
		if err == io.EOF {
			err = ErrStreamClosed
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		telemetry.FromContext(s.ctx).Debug("grpc stream ended", telemetry.Err(err))
		return StreamChunk{}, &ConnectionError{Op: "read stream", URL: s.url, Err: err}
	}
	if c.Result != nil {
		c.Final = true
	}
	if c.Final {
		s.done = true
		s.cancel()
	}
	return c, nil
}

func (s *grpcStream) Close() error {
	s.done = true
	s.cancel()
	return nil
}
