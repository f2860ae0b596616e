package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subgate-microservice/subgate-sub000/internal/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		return 1
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		application.Log.Error("Server stopped", "error", err)
		return 1
	}
	application.Log.Info("Server stopped")
	return 0
}
