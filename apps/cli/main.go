package main

import (
	"fmt"
	"os"

	"github.com/trezcool/rollcall/core"
	logsvc "github.com/trezcool/rollcall/services/logger"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(), conf)

	cli, err := newCommandLine(conf, logger, os.Stdin, os.Stdout)
	if err != nil {
		logger.Fatal("starting rollcall", err)
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "error: %s\n", cli.errorText(err))
		}
		os.Exit(1)
	}
}
