// Command generate runs one video request from the terminal and prints each
// status line as it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"demoreel/internal/app"
	"demoreel/internal/apperr"
	"demoreel/internal/config"
	"demoreel/internal/logger"
	"demoreel/internal/pipeline"
	"demoreel/internal/wallet"
)

func main() {
	repo := flag.String("repo", "", "GitHub repository URL")
	free := flag.Bool("free", false, "request the free sample instead of paying")
	configPath := flag.String("config", "", "path to config.yaml (overrides CONFIG_PATH)")
	flag.Parse()

	if *repo == "" {
		fmt.Fprintln(os.Stderr, "usage: generate -repo https://github.com/owner/name [-free]")
		os.Exit(2)
	}
	if *configPath != "" {
		os.Setenv("CONFIG_PATH", *configPath)
	}

	os.Exit(run(*repo, *free))
}

func run(repo string, free bool) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr, ServiceName: "demoreel-cli"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer a.Close()

	var last string
	a.Pipeline.Projector().OnChange(func(v pipeline.View) {
		if v.Status != "" && v.Status != last {
			last = v.Status
			fmt.Println(v.Status)
		}
	})

	var session wallet.Session
	if !free {
		if session, err = a.Pipeline.Connect(ctx); err != nil {
			return 1
		}
	}

	out, err := a.Pipeline.Generate(ctx, session, pipeline.Request{GithubURL: repo, Free: free})
	if err != nil {
		if apperr.MoneyMayHaveMoved(err) {
			fmt.Fprintf(os.Stderr, "payment tx: %s\n", apperr.Signature(err))
		}
		return 1
	}
	fmt.Println(out.DownloadURL)
	return 0
}
