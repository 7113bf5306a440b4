/*
This command runs the gatekeeper in front of an application.

For the list of command line options, run:

	gatekeeper -help

The options may also be given in a YAML file, see -config-file.
*/
package main

import (
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"

	"github.com/dojopool/gatekeeper"
	"github.com/dojopool/gatekeeper/config"
)

var (
	version string
	commit  string
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if cfg.PrintVersion {
		fmt.Printf("gatekeeper version %s (commit: %s, runtime: %s)\n", version, commit, runtime.Version())
		return
	}

	log.SetLevel(cfg.ApplicationLogLevel)
	if err := gatekeeper.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
