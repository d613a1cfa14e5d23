// tron-gateway is the custodial Tron payment gateway daemon: it watches
// the chain for deposits into allocated addresses, sweeps them into a
// treasury account, scores and splits them through the AML workflow,
// and executes payouts, all behind the HTTP surface in internal/httpapi.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const clientIdentifier = "tron-gateway"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "custodial Tron payment gateway",
	Version: "1.0.0",
}

func init() {
	app.Commands = []*cli.Command{
		serveCommand,
		dumpKeysCommand,
		generateAddressCommand,
		migrateCommand,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
