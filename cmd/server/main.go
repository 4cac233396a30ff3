package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arena-shooter/server/internal/app"
	"arena-shooter/server/internal/config"
)

func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", "", "path to a .toml or .yaml config file")
	flag.StringVar(&addr, "addr", "", "listen address, overrides the config file and "+config.EnvAddr)
	flag.Parse()

	settings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if addr != "" {
		settings.Server.Address = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{Settings: settings}); err != nil {
		log.Fatalf("%v", err)
	}
}
