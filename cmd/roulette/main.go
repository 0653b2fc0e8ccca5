package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"NeuralRoulette/internal/di"
	"NeuralRoulette/internal/strategy"
	"NeuralRoulette/pkg/config"
	"NeuralRoulette/pkg/server"

	"github.com/joho/godotenv"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

type options struct {
	configPath     string
	strategy       string
	balance        float64
	autoTrain      bool
	simulate       bool
	spins          int
	listStrategies bool
	set            map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("roulette", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "config/config.yaml", "config file path")
	fs.StringVar(&o.strategy, "strategy", "", "strategy to run: top1, top3 or top18")
	fs.Float64Var(&o.balance, "balance", 0, "starting balance")
	fs.BoolVar(&o.autoTrain, "auto-train", false, "train the model on live spins")
	fs.BoolVar(&o.simulate, "simulate", false, "use the built-in spin simulator instead of the live table")
	fs.IntVar(&o.spins, "spins", 0, "stop after this many spins (0 = unlimited)")
	fs.BoolVar(&o.listStrategies, "list-strategies", false, "print the available strategies and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply overrides cfg with flags given on the command line.
func (o *options) apply(cfg *config.Config) error {
	if o.set["strategy"] {
		cfg.Strategy = o.strategy
	}
	if o.set["balance"] {
		cfg.Session.Balance = o.balance
	}
	if o.set["auto-train"] {
		cfg.Session.AutoTrain = o.autoTrain
	}
	if o.simulate {
		cfg.Feed.Source = "simulate"
	}
	if o.set["spins"] {
		cfg.Session.MaxSpins = o.spins
	}
	return cfg.Validate()
}

func listStrategies(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tNUMBERS\tRISK\tTARGET WIN RATE\tDESCRIPTION")
	for _, s := range strategy.Catalog() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.1f%%\t%s\n", s.Kind, s.Numbers, s.Risk, s.TargetWinRate, s.Description)
	}
	_ = tw.Flush()
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if opts.listStrategies {
		listStrategies(stdout)
		return exitOK
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg, err := config.LoadWithEnv(opts.configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return exitUsage
	}
	if err := opts.apply(cfg); err != nil {
		log.Printf("invalid options: %v", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := di.InitializeApp(ctx, cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		return exitFail
	}
	defer cleanup()

	report, err := app.Run(ctx)
	if err != nil {
		log.Printf("session error: %v", err)
	}
	fmt.Fprintln(stdout, server.Describe(report))
	return server.ExitCode(report, err)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
