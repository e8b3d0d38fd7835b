/*
Package tracing provides lightweight request tracing for the host.

Each control API request gets a span. The trace and span IDs travel on the
request context, so asset fetches triggered by a mount carry the same
X-Trace-ID header to the application origin. Finished spans are written to
the structured log by a background collector.

	tracer := tracing.New("microhost", logger.Logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

Outgoing requests pick the headers up with Headers(ctx).
*/
package tracing
