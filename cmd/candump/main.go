package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dp-web4/modbatt-CAN/internal/bus"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/protocol"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/registry"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/schema"
)

func main() {
	open := bus.DefaultOpenConfig()
	flag.StringVar(&open.Kind, "transport", open.Kind, "transport: socketcan|slcan|replay")
	flag.StringVar(&open.Interface, "iface", open.Interface, "socketcan interface")
	flag.StringVar(&open.SLCAN.Port, "port", "", "slcan serial port")
	flag.IntVar(&open.SLCAN.Baud, "baud", open.SLCAN.Baud, "slcan serial baud")
	flag.IntVar(&open.SLCAN.Bitrate, "bitrate", open.SLCAN.Bitrate, "slcan CAN bitrate")
	flag.StringVar(&open.ReplayPath, "replay", "", "replay a can_frame capture file (implies -transport replay)")
	busName := flag.String("bus", string(schema.BusPack), "message bus to decode: pack|module|diag")
	segments := flag.String("segments", "0", "comma separated segments to decode")
	format := flag.String("format", formatLog, "output format: log|yaml")
	capture := flag.String("capture", "", "also write raw frames to this file")
	tables := flag.String("tables", "", "YAML message tables overriding built-in layouts")
	count := flag.Int("count", 0, "stop after this many frames (0 = unlimited)")
	flag.Parse()

	logs.ConfigureRuntime()
	if open.ReplayPath != "" {
		open.Kind = bus.KindReplay
	}
	err := run(open, *busName, *segments, *format, *capture, *tables, *count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candump: %v\n", err)
		os.Exit(1)
	}
}

func run(open bus.OpenConfig, busName, segList, format, capturePath, tablesPath string, count int) error {
	catalog := schema.Default()
	if tablesPath != "" {
		f, err := os.Open(tablesPath)
		if err != nil {
			return err
		}
		tables, err := protocol.LoadTables(f)
		f.Close()
		if err != nil {
			return err
		}
		if err := catalog.Override(tables); err != nil {
			return err
		}
	}
	segs, err := parseSegments(segList)
	if err != nil {
		return err
	}
	reg, err := registry.New(catalog.Classes(schema.Bus(busName)), segs)
	if err != nil {
		return err
	}

	var captureW io.Writer
	if capturePath != "" {
		f, err := os.Create(capturePath)
		if err != nil {
			return err
		}
		defer f.Close()
		captureW = f
	}

	tr, err := bus.Open(open)
	if err != nil {
		return err
	}
	defer tr.Close()

	d := newDumper(catalog, reg, os.Stdout, format, captureW)
	d.limit = count

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err = d.run(ctx, tr)
	logs.Infof("candump done %s", d.stats)
	return err
}

func parseSegments(raw string) ([]uint8, error) {
	var out []uint8
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", part, err)
		}
		out = append(out, uint8(n))
	}
	if len(out) == 0 {
		return nil, registry.ErrNoSegments
	}
	return out, nil
}
