package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	ConfigFile string `short:"c" long:"config" description:"YAML configuration file, the environment overrides its values"`
	EnvFile    string `long:"env-file" description:"file of KEY=value lines added to the environment" default:".env"`
}

var opts globalOptions

func newParser() *flags.Parser {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "Xray test reporter"
	parser.LongDescription = "Creates Xray test executions and records test run results, comments and evidence"

	for _, c := range commands() {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			panic(err)
		}
	}
	return parser
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = ctx

	if _, err := newParser().Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			fmt.Println(fe.Message)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
