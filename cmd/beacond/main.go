// Command beacond serves the shared selection and cache versions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/zoobzio/beacon/internal/cli"
	"github.com/zoobzio/capitan"
)

func main() {
	// glog registers -v, -logtostderr and friends on the standard flag set;
	// expose them to cobra through the root command's persistent flags.
	cmd := cli.NewRootCommand()
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()

	capitan.Shutdown()
	glog.Flush()

	if err != nil {
		fmt.Fprintln(os.Stderr, "beacond:", err)
		os.Exit(1)
	}
}
