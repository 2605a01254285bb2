// Package bus implements Connection.open_bus's AMQP binding: request/
// reply RPC over a named queue for query/update/deserialise, plus
// attaching the engine's change notifier to a topic exchange so remote
// subscribers see the same fan-out local ones do (spec §4.8).
//
// Grounded on the teacher pack's queue.AMQPConnection/AMQPChannel
// interfaces (evalgo-org-eve): thin wrappers around *amqp.Connection/
// *amqp.Channel so tests can substitute a fake, and the same
// Channel/QueueDeclare/Publish/Consume call shape used there.
package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/quillgraph/quill/internal/engine"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfio"
	"github.com/quillgraph/quill/internal/remote"
)

// maxConcurrentRPCs bounds how many deliveries this server handles at
// once. Query RPCs run concurrently on the scheduler's reader lane;
// Update RPCs still serialise there, so this only controls how many
// in-flight requests wait on that lane at a time.
const maxConcurrentRPCs = 8

const notifyExchange = "quill.notify"

// request is one RPC-style operation sent to a Server's queue.
type request struct {
	Op     string   `json:"op"`
	SPARQL string   `json:"sparql,omitempty"`
	Params []string `json:"params,omitempty"`
	Format string   `json:"format,omitempty"`
	Doc    string   `json:"doc,omitempty"`
}

type response struct {
	Error  string              `json:"error,omitempty"`
	Query  *remote.QueryResult `json:"query,omitempty"`
	Blanks []map[string]string `json:"blanks,omitempty"`
	Doc    string              `json:"doc,omitempty"`
}

// Server consumes RPC requests for one Connection off a named queue
// ("service" in spec's open_bus(service)) and attaches the connection's
// notifier to the topic exchange remote subscribers listen on.
type Server struct {
	conn    *engine.Connection
	ch      *amqp.Channel
	service string
	log     zerolog.Logger
}

// New declares service's request queue and the notification exchange on
// ch, and attaches conn's notifier so commits fan out remotely.
func New(conn *engine.Connection, ch *amqp.Channel, service string, log zerolog.Logger) (*Server, error) {
	if err := ch.ExchangeDeclare(notifyExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "declare notify exchange")
	}
	if _, err := ch.QueueDeclare(service, true, false, false, false, nil); err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "declare service queue %s", service)
	}
	conn.AttachBus(ch)
	return &Server{conn: conn, ch: ch, service: service, log: log}, nil
}

// Serve consumes requests until ctx is cancelled, dispatching each
// delivery to its own goroutine bounded by maxConcurrentRPCs so a slow
// query doesn't stall replies to ones queued behind it.
func (s *Server) Serve(ctx context.Context) error {
	deliveries, err := s.ch.Consume(s.service, "", false, false, false, false, nil)
	if err != nil {
		return quillerr.New(quillerr.KindIO, err, "consume %s", s.service)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRPCs)
	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return nil
		case d, ok := <-deliveries:
			if !ok {
				g.Wait()
				return nil
			}
			g.Go(func() error {
				s.handle(gctx, d)
				return nil
			})
		}
	}
}

func (s *Server) handle(ctx context.Context, d amqp.Delivery) {
	var req request
	resp := response{}
	if err := json.Unmarshal(d.Body, &req); err != nil {
		resp.Error = err.Error()
	} else if err := s.dispatch(ctx, req, &resp); err != nil {
		resp.Error = err.Error()
	}

	if d.ReplyTo == "" {
		d.Ack(false)
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal bus RPC response")
		d.Ack(false)
		return
	}
	if err := s.ch.Publish("", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Body:          body,
	}); err != nil {
		s.log.Error().Err(err).Msg("publish bus RPC response")
	}
	d.Ack(false)
}

func (s *Server) dispatch(ctx context.Context, req request, resp *response) error {
	params, err := remote.DecodeParams(req.Params)
	if err != nil {
		return err
	}
	switch req.Op {
	case "query":
		cur, qerr := s.conn.Query(ctx, req.SPARQL, params)
		if qerr != nil {
			return qerr
		}
		res := remote.FromCursor(cur)
		resp.Query = &res
		return nil
	case "update":
		return s.conn.Update(ctx, req.SPARQL, params)
	case "update_blank":
		blanks, uerr := s.conn.UpdateBlank(ctx, req.SPARQL, params)
		if uerr != nil {
			return uerr
		}
		resp.Blanks = blanks
		return nil
	case "deserialise":
		return s.conn.Deserialise(ctx, strings.NewReader(req.Doc), rdfio.Format(req.Format))
	case "serialise":
		var buf strings.Builder
		if serr := s.conn.Serialise(ctx, &buf, req.SPARQL, params, rdfio.Format(req.Format)); serr != nil {
			return serr
		}
		resp.Doc = buf.String()
		return nil
	default:
		return quillerr.New(quillerr.KindParseError, nil, "unknown bus operation %q", req.Op)
	}
}
