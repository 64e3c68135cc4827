package a2a

import (
	"context"
	"fmt"
	"net/url"
)

// Stream is a lazily consumed sequence of chunks answering one message.
// Recv returns io.EOF once the terminal chunk has been delivered.
type Stream interface {
	Recv() (StreamChunk, error)
	Close() error
}

type Invoker interface {
	Stream(ctx context.Context, card *AgentCard, msg Message) (Stream, error)
	Send(ctx context.Context, card *AgentCard, msg Message) (*Message, error)
}

// Transport picks the HTTP or gRPC client based on the card URL scheme.
type Transport struct {
	HTTP *HTTPClient
	GRPC *GRPCClient
}

func NewTransport(httpClient *HTTPClient, grpcClient *GRPCClient) *Transport {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	if grpcClient == nil {
		grpcClient = NewGRPCClient()
	}
	return &Transport{HTTP: httpClient, GRPC: grpcClient}
}

func (t *Transport) Stream(ctx context.Context, card *AgentCard, msg Message) (Stream, error) {
	inv, err := t.pick(card)
	if err != nil {
		return nil, err
	}
	return inv.Stream(ctx, card, msg)
}

func (t *Transport) Send(ctx context.Context, card *AgentCard, msg Message) (*Message, error) {
	inv, err := t.pick(card)
	if err != nil {
		return nil, err
	}
	return inv.Send(ctx, card, msg)
}

func (t *Transport) Close() error {
	return t.GRPC.Close()
}

func (t *Transport) pick(card *AgentCard) (Invoker, error) {
	if card == nil {
		return nil, fmt.Errorf("a2a: nil agent card")
	}
	u, err := url.Parse(card.URL)
	if err != nil {
		return nil, fmt.Errorf("a2a: card %q: %w", card.Name, err)
	}
	switch u.Scheme {
	case "http", "https":
		return t.HTTP, nil
	case "grpc":
		return t.GRPC, nil
	default:
		return nil, fmt.Errorf("a2a: card %q: unsupported scheme %q", card.Name, u.Scheme)
	}
}
