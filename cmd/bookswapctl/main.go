package main

import (
	"context"
	"os"
	"os/signal"

	"bookswap/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		logger.Error().Err(err).Msg("bookswapctl")
		os.Exit(1)
	}
}
