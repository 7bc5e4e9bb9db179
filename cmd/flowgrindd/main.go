// Command flowgrindd boots the flow-processing engine and runs it until
// interrupted. It creates no control-thread Client (engine.NewClient) and
// deliberately carries no RPC/control-protocol listener of its own
// (out of scope per this component's scope) — wiring the engine to an
// actual network control plane is left to whatever embeds this package.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/flowgrindd/internal/engine"
	"github.com/joeycumines/flowgrindd/internal/logging"
	"github.com/joeycumines/flowgrindd/internal/queue"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := logging.New(os.Stderr)
	if !*verbose {
		logger = logging.Discard()
	}

	e, err := engine.New(engine.Config{
		Requests: queue.NewRequestQueue(),
		Reports:  queue.NewReportQueue(),
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "flowgrindd: failed to start engine:", err)
		os.Exit(1)
	}
	defer e.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := e.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "flowgrindd: engine exited:", err)
		os.Exit(1)
	}
}
