package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/cebarrett/todo/internal/cli"
)

func main() {
	runner, err := cli.NewRunner()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := runner.Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
