package main

import (
	"flag"
	"os"
	"strings"
	"time"
)

type options struct {
	targets []string
	watch   bool
	interval time.Duration
	json    bool
	version bool
}

func parseFlags() *options {
	o := &options{}
	var targetList string

	fs := flag.NewFlagSet("maglev-balancer-inspect", flag.ExitOnError)
	fs.StringVar(&targetList, "targets", "http://localhost:8080", "comma-separated list of base URLs to inspect")
	fs.BoolVar(&o.watch, "watch", false, "poll every -interval instead of printing once")
	fs.DurationVar(&o.interval, "interval", 2*time.Second, "poll interval in watch mode")
	fs.BoolVar(&o.json, "json", false, "print raw JSON instead of a formatted summary")
	fs.BoolVar(&o.version, "version", false, "print the CLI version and exit")
	fs.Parse(os.Args[1:])

	for _, t := range strings.Split(targetList, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			o.targets = append(o.targets, t)
		}
	}
	return o
}
