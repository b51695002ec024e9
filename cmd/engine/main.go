package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tokenlens/costbasis/app/engine"
)

func main() {
	// Local development convenience; production configures via real env vars.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := engine.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	app.Start(ctx)
}
