// Package effects connects a unidirectional dataflow loop to Go's goroutine runtime.
//
// A loop emits effects (requests for side work) and folds the events it gets back
// into its next state. This package and its subpackages provide the pieces that sit
// between the two:
//
//   - handler: turns a per-effect function into a Connectable. Each accepted effect
//     runs as its own goroutine-backed task inside a scope owned by the connection.
//   - subtype: routes effects by their dynamic type to sync, async or nested handlers.
//   - worker: runs the loop's own event processing and effect dispatch on a chosen
//     execution context (see runner).
//   - runner: execution contexts (inline, single goroutine, pools, partitioned lanes).
//   - pipe: converts channel pipelines to and from Connectables.
//
// # Lifecycle
//
// Every Connection goes through Created -> Open -> Disposing -> Disposed.
// Dispose is idempotent. After Dispose returns, no event reaches the consumer and
// further Accept calls are ignored.
//
// # Cancellation
//
// Cancellation is cooperative. Handlers receive a context.Context which is
// cancelled on Dispose; a handler that never looks at it simply runs to completion
// and its late events are dropped.
//
// Example:
//
//	eh := handler.New(func(ctx context.Context, f Fetch, out effects.Consumer[Event]) error {
//	    body, err := fetch(ctx, f.URL)
//	    if err != nil {
//	        return err
//	    }
//	    out(Fetched{Body: body})
//	    return nil
//	})
//	conn := eh.Connect(loop.Dispatch)
//	defer conn.Dispose()
//
//	conn.Accept(Fetch{URL: "https://example.com"})
package effects
