package annotator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/annotator/curie"
	"github.com/zero-day-ai/annotator/record"
	"github.com/zero-day-ai/annotator/trapi"
)

// Dispatcher runs batch queries for one semantic type at a time.
// *dispatch.Dispatcher implements it.
type Dispatcher interface {
	// Supports reports whether typ has an annotation source.
	Supports(typ string) bool

	// Query returns records keyed by the ids they answered.
	Query(ctx context.Context, typ string, ids, fields []string) (map[string][]record.Record, error)
}

// Annotator attaches BioThings annotations to CURIEs and TRAPI nodes.
// It keeps no state between calls and is safe for concurrent use.
type Annotator struct {
	dispatcher  Dispatcher
	logger      *slog.Logger
	tracer      trace.Tracer
	concurrency int
}

// New creates an Annotator that queries through d.
func New(d Dispatcher, opts ...Option) (*Annotator, error) {
	if d == nil {
		return nil, NewConfigurationError("annotator.New", fmt.Errorf("dispatcher is required"))
	}

	cfg := &config{
		logger:      slog.Default(),
		concurrency: 3,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.tracer == nil {
		cfg.tracer = noop.NewTracerProvider().Tracer("annotator")
	}

	return &Annotator{
		dispatcher:  d,
		logger:      cfg.logger,
		tracer:      cfg.tracer,
		concurrency: cfg.concurrency,
	}, nil
}

// AnnotateCurie annotates a single CURIE and returns {id: records}.
//
// A malformed id fails with ErrInvalidCurie; an id whose prefix is not
// registered fails with ErrUnresolvedType. An id the source has no record
// for yields an empty list.
func (a *Annotator) AnnotateCurie(ctx context.Context, id string, opts AnnotateOptions) (map[string][]record.Record, error) {
	const op = "Annotator.AnnotateCurie"

	ctx, span := a.tracer.Start(ctx, "annotator.annotate_curie",
		trace.WithAttributes(attribute.String("annotator.curie", id)),
	)
	defer span.End()

	parsed, err := curie.Parse(id)
	if err != nil {
		return nil, a.fail(span, classify(op, err))
	}
	if !parsed.Resolved() {
		err := NewNotFoundError(op, fmt.Errorf("%w: %s", ErrUnresolvedType, id))
		return nil, a.fail(span, err.WithContext(map[string]any{"curie": id}))
	}

	res, err := a.dispatcher.Query(ctx, parsed.Type, []string{parsed.ID}, opts.Fields)
	if err != nil {
		return nil, a.fail(span, classify(op, err).WithContext(map[string]any{"curie": id}))
	}

	records := res[parsed.ID]
	if records == nil {
		records = []record.Record{}
	}
	if !opts.Raw {
		records = record.TransformAll(records)
	}

	span.SetAttributes(attribute.Int("annotator.records", len(records)))
	return map[string][]record.Record{id: records}, nil
}

// batch collects the nodes of one semantic type.
type batch struct {
	typ string

	// queryIDs are the distinct source ids in node order.
	queryIDs []string

	// nodes maps a source id back to the node ids that produced it.
	nodes map[string][]string
}

// AnnotateGraph annotates every node of the TRAPI message in place and
// returns its node collection.
//
// Nodes are grouped by semantic type and each group is sent to its source
// as one batch. Nodes whose prefix is not registered, or whose type has no
// source, are left untouched. With opts.Append the annotation entry is added
// to the node's attributes; otherwise it replaces them.
//
// All batches are fetched and every target node checked before any node is
// written, so a failed call leaves the message unchanged.
func (a *Annotator) AnnotateGraph(ctx context.Context, message map[string]any, opts AnnotateOptions) (map[string]any, error) {
	const op = "Annotator.AnnotateGraph"

	ctx, span := a.tracer.Start(ctx, "annotator.annotate_graph")
	defer span.End()

	nodes, err := trapi.Nodes(message)
	if err != nil {
		return nil, a.fail(span, classify(op, err))
	}

	batches, err := a.group(ctx, nodes)
	if err != nil {
		return nil, a.fail(span, classify(op, err))
	}

	var active []*batch
	for _, b := range batches {
		if !a.dispatcher.Supports(b.typ) {
			a.logger.DebugContext(ctx, "no annotation source for type", "type", b.typ, "count", len(b.queryIDs))
			continue
		}
		active = append(active, b)
	}

	span.SetAttributes(
		attribute.Int("annotator.nodes", len(nodes)),
		attribute.Int("annotator.batches", len(active)),
	)

	results := make([]map[string][]record.Record, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, b := range active {
		g.Go(func() error {
			res, err := a.dispatcher.Query(gctx, b.typ, b.queryIDs, opts.Fields)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, a.fail(span, classify(op, err))
	}

	type write struct {
		nodeID string
		attr   trapi.Attribute
	}
	var writes []write
	for i, b := range active {
		for _, qid := range b.queryIDs {
			records, ok := results[i][qid]
			if !ok {
				continue
			}
			if !opts.Raw {
				records = record.TransformAll(records)
			}
			attr := trapi.NewAttribute(records)
			for _, nodeID := range b.nodes[qid] {
				writes = append(writes, write{nodeID: nodeID, attr: attr})
			}
		}
	}

	check := trapi.CheckReplaceable
	if opts.Append {
		check = trapi.CheckAppendable
	}
	for _, w := range writes {
		if err := check(nodes, w.nodeID); err != nil {
			return nil, a.fail(span, classify(op, err).WithContext(map[string]any{"node_id": w.nodeID}))
		}
	}

	for _, w := range writes {
		if opts.Append {
			err = trapi.AppendAttribute(nodes, w.nodeID, w.attr)
		} else {
			err = trapi.ReplaceAttributes(nodes, w.nodeID, w.attr)
		}
		if err != nil {
			return nil, a.fail(span, classify(op, err).WithContext(map[string]any{"node_id": w.nodeID}))
		}
	}
	annotated := len(writes)

	span.SetAttributes(attribute.Int("annotator.annotated_nodes", annotated))
	a.logger.InfoContext(ctx, "graph annotated", "nodes", len(nodes), "annotated", annotated)

	return nodes, nil
}

// group parses every node id and collects them into per-type batches.
// Within a batch ids follow lexical node-id order, not message order, since
// the decoded node map does not keep it. Unresolved prefixes are logged and skipped.
func (a *Annotator) group(ctx context.Context, nodes map[string]any) ([]*batch, error) {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var batches []*batch
	byType := make(map[string]*batch)

	for _, nodeID := range ids {
		parsed, err := curie.Parse(nodeID)
		if err != nil {
			return nil, err
		}
		if !parsed.Resolved() {
			a.logger.InfoContext(ctx, "skipping node with unresolved prefix", "node_id", nodeID)
			continue
		}

		b, ok := byType[parsed.Type]
		if !ok {
			b = &batch{typ: parsed.Type, nodes: make(map[string][]string)}
			byType[parsed.Type] = b
			batches = append(batches, b)
		}
		if _, seen := b.nodes[parsed.ID]; !seen {
			b.queryIDs = append(b.queryIDs, parsed.ID)
		}
		b.nodes[parsed.ID] = append(b.nodes[parsed.ID], nodeID)
	}

	return batches, nil
}

func (a *Annotator) fail(span trace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Kind)
	return err
}
