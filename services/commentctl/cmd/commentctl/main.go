// Command commentctl reads, posts and follows video comments from a
// terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/video-collab/services/commentctl/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.NewRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
