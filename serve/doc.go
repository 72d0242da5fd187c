// Package serve exposes an annotator over HTTP and gRPC.
//
// The HTTP API:
//
//	GET  /annotator/{curie}?raw=&fields=   annotate one CURIE
//	POST /annotator?append=&raw=&fields=   annotate a TRAPI message body
//	GET  /health                           health status, 503 when unhealthy
//	GET  /metrics                          Prometheus metrics
//
// The gRPC API is the annotator.v1.Annotator service, whose requests and
// responses are google.protobuf.Struct values shaped like the HTTP bodies.
// The standard gRPC health service is registered beside it.
//
// Errors from the annotator are mapped by kind: validation errors become
// 400 / InvalidArgument, unresolved CURIEs 404 / NotFound, and everything
// else 500 / Internal (Unavailable for network failures).
//
// # Usage
//
//	srv, err := serve.NewServer(&serve.Config{
//	    HTTPAddr: ":8080",
//	    GRPCAddr: ":50051",
//	}, a, serve.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
package serve
