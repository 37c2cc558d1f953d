package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
	"github.com/dp-web4/modbatt-CAN/internal/vcu"
)

func main() {
	configPath := flag.String("config", "cmd/vcuctl/config.toml", "path to VCU config")
	flag.Parse()

	logs.ConfigureRuntime()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "vcuctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	rc, err := loadRuntimeConfig(configPath)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(rc.MessageTables)
	if err != nil {
		return err
	}

	tr, err := bus.Open(rc.Transport)
	if err != nil {
		return err
	}
	defer tr.Close()

	svc, err := vcu.NewService(tr, rc.Service, vcu.WithCatalog(catalog))
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

// loadCatalog returns the built-in catalogue with any YAML overrides applied.
func loadCatalog(path string) (*schema.Catalog, error) {
	catalog := schema.Default()
	if path == "" {
		return catalog, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open message tables: %w", err)
	}
	defer f.Close()
	tables, err := protocol.LoadTables(f)
	if err != nil {
		return nil, err
	}
	if err := catalog.Override(tables); err != nil {
		return nil, err
	}
	return catalog, nil
}
