package a2a

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func startBufServer(t *testing.T, exec Executor) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(testCard(true), exec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, lis) }()
	t.Cleanup(cancel)

	client := NewGRPCClient(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func grpcCard() *AgentCard {
	return &AgentCard{Name: "GRPCAgent", URL: "grpc://bufnet", Capabilities: Capabilities{Streaming: true}}
}

func TestGRPCStream(t *testing.T) {
	client := startBufServer(t, scripted(
		StatusChunk("", TaskStateWorking, "drafting"),
		ResultChunk("", "copy"),
		StatusChunk("", TaskStateWorking, "late"),
	))

	msg := NewTextMessage(RoleUser, "outline")
	stream, err := client.Stream(context.Background(), grpcCard(), msg)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks := collect(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].TaskID != msg.MessageID {
		t.Errorf("TaskID = %q, want %q", chunks[0].TaskID, msg.MessageID)
	}
	if chunks[1].Text() != "copy" || !chunks[1].IsTerminal() {
		t.Errorf("terminal = %+v", chunks[1])
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv after terminal = %v, want io.EOF", err)
	}
}

func TestGRPCSend(t *testing.T) {
	client := startBufServer(t, scripted(ResultChunk("", "deck-ai-001.md")))
	msg, err := client.Send(context.Background(), grpcCard(), NewTextMessage(RoleUser, "build"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Text() != "deck-ai-001.md" {
		t.Errorf("Text = %q", msg.Text())
	}
}

func TestGRPCStreamFailure(t *testing.T) {
	client := startBufServer(t, scripted(FailureChunk("", "boom", ChunkError{Kind: "StageError", Reason: "boom"})))
	stream, err := client.Stream(context.Background(), grpcCard(), NewTextMessage(RoleUser, "x"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	c, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !c.Failed() || c.Error.Reason != "boom" {
		t.Errorf("chunk = %+v, want failure boom", c)
	}
}

func TestGRPCRefusesNonStreamingCard(t *testing.T) {
	client := NewGRPCClient()
	defer client.Close()
	card := grpcCard()
	card.Capabilities.Streaming = false
	if _, err := client.Stream(context.Background(), card, NewTextMessage(RoleUser, "x")); !errors.Is(err, ErrStreamingUnsupported) {
		t.Errorf("err = %v, want ErrStreamingUnsupported", err)
	}
}
