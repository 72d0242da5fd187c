// Package annotator attaches BioThings annotations to biomedical
// identifiers and to the nodes of TRAPI knowledge graphs.
//
// Identifiers are CURIEs such as "NCBIGene:1017". The prefix selects a
// semantic type (gene, chem, disease) and the local part is rewritten into
// the form the type's BioThings source expects. Nodes of one type are sent
// to their source as a single batch query, and the returned records are
// attached to the nodes they describe.
//
// # Getting Started
//
// Build a dispatcher over the default sources and wrap it in an Annotator:
//
//	sources := source.DefaultRegistry()
//	clients := make(map[string]biothings.Querier)
//	for _, typ := range sources.Types() {
//		cfg, _ := sources.Get(typ)
//		c, err := biothings.NewClient(biothings.Options{Endpoint: cfg.Endpoint})
//		if err != nil {
//			log.Fatal(err)
//		}
//		clients[typ] = c
//	}
//
//	d, err := dispatch.New(sources, clients)
//	if err != nil {
//		log.Fatal(err)
//	}
//	a, err := annotator.New(d, annotator.WithConcurrency(3))
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Annotating
//
// A single identifier:
//
//	res, err := a.AnnotateCurie(ctx, "NCBIGene:1017", annotator.AnnotateOptions{})
//	// res["NCBIGene:1017"] holds the gene records.
//
// A whole graph, in place:
//
//	nodes, err := a.AnnotateGraph(ctx, message, annotator.AnnotateOptions{Append: true})
//
// Each annotated node gains an attribute whose attribute_type_id is
// trapi.AttributeTypeID and whose value is the list of records. Nodes with
// an unregistered prefix are left as they are.
//
// # Error Handling
//
// Failures are returned as *Error values. Use errors.Is with the sentinel
// errors (ErrInvalidCurie, ErrInvalidInput, ErrUnresolvedType,
// ErrUnknownSource) or KindOf to branch on the category:
//
//	if errors.Is(err, annotator.ErrUnresolvedType) {
//		// no source knows this prefix
//	}
//
// The serve package maps kinds onto HTTP and gRPC status codes.
package annotator
