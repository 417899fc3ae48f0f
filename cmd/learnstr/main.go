package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/learnstr/learnstr/internal/addr"
	"github.com/learnstr/learnstr/internal/config"
	"github.com/learnstr/learnstr/internal/interactions"
	"github.com/learnstr/learnstr/internal/notecache"
	"github.com/learnstr/learnstr/internal/ops"
	"github.com/learnstr/learnstr/internal/publisher"
	"github.com/learnstr/learnstr/internal/relaypool"
	"github.com/learnstr/learnstr/internal/resolver"
	"github.com/learnstr/learnstr/internal/signer"
	"github.com/learnstr/learnstr/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("learnstr %s (%s)\n", version, commit)
		os.Exit(0)
	}

	if *configPath == "" || flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(log)

	command := flag.Arg(0)
	args := flag.Args()[1:]

	if err := run(cfg, log, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("learnstr - Nostr-backed course platform core")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  learnstr init                                Generate example configuration")
	fmt.Println("  learnstr --config <path> resolve <id...>     Resolve identifiers to notes")
	fmt.Println("  learnstr --config <path> publish <draft-id>  Publish a draft")
	fmt.Println("  learnstr --config <path> watch <event-id>    Follow interaction counts")
	fmt.Println("  learnstr --version                           Show version information")
}

func handleInit() {
	example, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(example))
}

func run(cfg *config.Config, log *ops.Logger, command string, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := relaypool.New(ctx, &cfg.Relays, log)
	defer client.Close()

	switch command {
	case "resolve":
		return runResolve(ctx, cfg, log, client, args)
	case "publish":
		return runPublish(ctx, cfg, log, client, args)
	case "watch":
		return runWatch(ctx, cfg, log, client, args)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runResolve(ctx context.Context, cfg *config.Config, log *ops.Logger, client *relaypool.Client, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("resolve requires at least one identifier")
	}

	res := resolver.New(client, cfg.Relays.Seeds, log)

	var results map[string]resolver.Result
	if cfg.Cache.Enabled {
		cache, err := notecache.New(res, &cfg.Cache, log)
		if err != nil {
			return err
		}
		results = cache.Resolve(ctx, ids, addr.ContentKinds)
	} else {
		results = res.Resolve(ctx, ids, addr.ContentKinds)
	}

	for _, id := range ids {
		result := results[id]
		switch {
		case result.Failed():
			fmt.Printf("%s\terror\t%s\n", id, result.Err)
		case result.Found():
			fmt.Printf("%s\tkind %d\t%s\t%s\n",
				id, result.Note.Kind, noteTitle(result.Note),
				result.Note.CreatedAt.Time().Format(time.RFC3339))
		default:
			fmt.Printf("%s\tcontent unavailable\n", id)
		}
	}
	return nil
}

func runPublish(ctx context.Context, cfg *config.Config, log *ops.Logger, client *relaypool.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("publish requires exactly one draft id")
	}
	draftID := args[0]

	st, err := store.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer st.Close()

	res := resolver.New(client, cfg.Relays.Seeds, log)
	cache, err := notecache.New(res, &cfg.Cache, log)
	if err != nil {
		return err
	}

	orch := publisher.New(st, client, cfg, cache, log)
	orch.SetNoteResolver(cache)

	opts := publisher.Options{}
	if cfg.Identity.Custody == config.CustodyUser {
		bunker, err := signer.ConnectBunker(ctx, cfg.Identity.BunkerURL, client.Pool())
		if err != nil {
			return err
		}
		opts.Signer = bunker
	}

	receipt, err := orch.Publish(ctx, draftID, opts)
	printSteps(orch, draftID)
	if err != nil {
		return err
	}

	encoded, encErr := receipt.Address.Encode()
	if encErr != nil {
		encoded = receipt.Address.Coordinate()
	}
	fmt.Printf("\npublished %s\n  address: %s\n  event:   %s\n  relays:  %d accepted\n",
		draftID, encoded, receipt.EventID, receipt.Accepted)
	for i, child := range receipt.Children {
		fmt.Printf("  lesson %d: %s\n", i+1, child.Address.Coordinate())
	}
	return nil
}

func printSteps(orch *publisher.Orchestrator, draftID string) {
	run, ok := orch.Run(draftID)
	if !ok {
		return
	}
	for _, step := range run.Steps() {
		marker := " "
		switch step.Status {
		case publisher.StepCompleted:
			marker = "✓"
		case publisher.StepError:
			marker = "✗"
		}
		line := fmt.Sprintf("%s %-18s %s", marker, step.ID, step.Status)
		if step.ErrMessage != "" {
			line += ": " + step.ErrMessage
		}
		fmt.Println(line)
	}
}

func runWatch(ctx context.Context, cfg *config.Config, log *ops.Logger, client *relaypool.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("watch requires exactly one event id")
	}

	address, err := addr.Parse(args[0])
	if err != nil {
		return err
	}
	if !address.IsDirect() {
		return fmt.Errorf("watch requires a direct event id, not a coordinate")
	}

	tracker, err := interactions.Mount(ctx, client, cfg.Relays.Seeds, &cfg.Interactions, "", address.EventID, log)
	if err != nil {
		return err
	}
	defer tracker.Close()

	fmt.Printf("watching %s (Ctrl+C to stop)\n", address.EventID)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
			counts := tracker.Counts()
			fmt.Printf("\rzaps %d (%s)  likes %d  comments %d   ",
				counts.Zaps, interactions.FormatSats(counts.ZapSats),
				counts.Likes, counts.Comments)
		}
	}
}

func noteTitle(ev *nostr.Event) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "title" {
			return tag[1]
		}
	}
	if line, _, _ := strings.Cut(ev.Content, "\n"); line != "" {
		if len(line) > 40 {
			return line[:37] + "..."
		}
		return line
	}
	return "(untitled)"
}
