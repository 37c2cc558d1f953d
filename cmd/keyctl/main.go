package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	"github.com/dp-web4/modbatt-CAN/internal/config"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/vcu"
)

type options struct {
	configPath string
	segment    int
	packKey    string
	appKey     string
	packID     string
	appID      string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "cmd/vcuctl/config.toml", "path to VCU config")
	flag.IntVar(&opts.segment, "segment", -1, "pack segment (overrides config)")
	flag.StringVar(&opts.packKey, "pack-key", "", "pack key half, hex (overrides [keys])")
	flag.StringVar(&opts.appKey, "app-key", "", "app key half, hex (overrides [keys])")
	flag.StringVar(&opts.packID, "pack-id", "", "pack component id (overrides [keys])")
	flag.StringVar(&opts.appID, "app-id", "", "app component id (overrides [keys])")
	flag.Parse()

	logs.ConfigureRuntime()
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "keyctl: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	file, err := config.LoadVCUConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(&file, opts)
	if err := config.ValidateVCUConfig(file); err != nil {
		return err
	}
	keys, err := file.Keys.Keys()
	if err != nil {
		return err
	}
	scfg, err := file.ServiceConfig()
	if err != nil {
		return err
	}
	scfg.StatusAddr = ""
	scfg.Publish.Addr = ""

	tr, err := bus.Open(file.OpenConfig())
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logs.Infof("keyctl distribute segment=%d transport=%s", scfg.Segment, file.Transport)
	_, err = distribute(ctx, tr, scfg, keys)
	if errors.Is(err, transfer.ErrAborted) {
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}

// distribute runs the key transfers through a VCU service so telemetry
// arriving between ACKs still lands in its store.
func distribute(ctx context.Context, tr bus.Transport, scfg vcu.ServiceConfig, keys transfer.Keys) ([]transfer.Result, error) {
	svc, err := vcu.NewService(tr, scfg, vcu.WithTransferProgress(logProgress))
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	results, err := svc.DistributeKeys(ctx, keys)
	for _, res := range results {
		logs.Infof(
			"keyctl result base=0x%03X status=%s acked=%d/%d retries=%d",
			res.Base, res.Status, res.Acked, res.Chunks, res.Retries,
		)
	}
	if stats := svc.Stats(); stats.Received > 0 {
		logs.Infof("keyctl telemetry received=%d applied=%d during distribution", stats.Received, stats.Applied)
	}
	return results, err
}

func applyFlags(file *config.VCUFile, opts options) {
	if opts.segment >= 0 {
		file.Segment = opts.segment
	}
	if opts.packKey != "" {
		file.Keys.PackKeyHalf = opts.packKey
	}
	if opts.appKey != "" {
		file.Keys.AppKeyHalf = opts.appKey
	}
	if opts.packID != "" {
		file.Keys.PackComponentID = opts.packID
	}
	if opts.appID != "" {
		file.Keys.AppComponentID = opts.appID
	}
}

func logProgress(p transfer.Progress) {
	logs.Infof(
		"keyctl chunk base=0x%03X chunk=%d/%d attempt=%d outcome=%s",
		p.Base, p.Chunk+1, p.Total, p.Attempt, p.Outcome,
	)
}
