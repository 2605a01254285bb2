package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/remote"
)

// Client issues RPC-style requests against a remote Server's service
// queue, as built by Connection.open_bus(service).
type Client struct {
	ch      *amqp.Channel
	service string
	replyTo string

	mu      sync.Mutex
	pending map[string]chan response
}

// Dial declares a private, exclusive reply queue on ch and starts
// consuming responses correlated back to waiting callers.
func Dial(ch *amqp.Channel, service string) (*Client, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "declare reply queue")
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "consume reply queue")
	}

	c := &Client{ch: ch, service: service, replyTo: q.Name, pending: map[string]chan response{}}
	go func() {
		for d := range deliveries {
			var resp response
			if err := json.Unmarshal(d.Body, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[d.CorrelationId]
			delete(c.pending, d.CorrelationId)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		}
	}()
	return c, nil
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	corrID := uuid.NewString()
	wait := make(chan response, 1)
	c.mu.Lock()
	c.pending[corrID] = wait
	c.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return response{}, quillerr.New(quillerr.KindInternal, err, "encode bus request")
	}
	if err := c.ch.Publish("", c.service, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       c.replyTo,
		Body:          body,
	}); err != nil {
		return response{}, quillerr.New(quillerr.KindIO, err, "publish bus request")
	}

	select {
	case resp := <-wait:
		if resp.Error != "" {
			return response{}, quillerr.New(quillerr.KindInternal, nil, "%s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
		return response{}, quillerr.New(quillerr.KindCancelled, ctx.Err(), "bus call cancelled")
	}
}

// Query runs sparql on the remote engine.
func (c *Client) Query(ctx context.Context, sparql string, params []string) (remote.QueryResult, error) {
	resp, err := c.call(ctx, request{Op: "query", SPARQL: sparql, Params: params})
	if err != nil || resp.Query == nil {
		return remote.QueryResult{}, err
	}
	return *resp.Query, nil
}

// Update runs sparql on the remote engine.
func (c *Client) Update(ctx context.Context, sparql string, params []string) error {
	_, err := c.call(ctx, request{Op: "update", SPARQL: sparql, Params: params})
	return err
}

// UpdateBlank runs sparql on the remote engine and returns its blank-node
// mapping.
func (c *Client) UpdateBlank(ctx context.Context, sparql string, params []string) ([]map[string]string, error) {
	resp, err := c.call(ctx, request{Op: "update_blank", SPARQL: sparql, Params: params})
	if err != nil {
		return nil, err
	}
	return resp.Blanks, nil
}

// Deserialise bulk-imports an RDF document on the remote engine.
func (c *Client) Deserialise(ctx context.Context, doc, format string) error {
	_, err := c.call(ctx, request{Op: "deserialise", Doc: doc, Format: format})
	return err
}

// Serialise runs a CONSTRUCT/DESCRIBE query remotely and returns the
// serialised result document.
func (c *Client) Serialise(ctx context.Context, sparql string, params []string, format string) (string, error) {
	resp, err := c.call(ctx, request{Op: "serialise", SPARQL: sparql, Params: params, Format: format})
	if err != nil {
		return "", err
	}
	return resp.Doc, nil
}
