// recorddump opens a record store file read-only and prints each record's
// index position, key, header fields, and payload length. It exits
// non-zero on any format error.
//
// Usage:
//
//	recorddump [flags] <file>
//
// The report goes to stdout by default. With --out it is written to a file
// atomically (write-to-temp, rename), and --compress adds zstd compression
// on top. --format=json emits one JSON object per slot instead of the
// human-readable table.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	recordstore "github.com/jpl-au/recordstore"
)

var (
	hexKeys  = flag.Bool("hex", false, "render keys as hex instead of base64")
	format   = flag.String("format", "text", "output format: text or json")
	outPath  = flag.String("out", "", "write the report to this file atomically instead of stdout")
	compress = flag.Bool("compress", false, "zstd-compress the report (requires --out)")
	mapped   = flag.Bool("mmap", false, "open the file with the memory-mapped backend")
	verbose  = flag.Bool("verbose", false, "log per-slot diagnostics")
)

// slotJSON is the machine-readable rendering of one index slot.
type slotJSON struct {
	Slot          int    `json:"slot"`
	Key           string `json:"key"`
	DataPointer   uint64 `json:"data_pointer"`
	DataCapacity  uint32 `json:"data_capacity"`
	DataCount     int32  `json:"data_count"`
	PayloadLength int    `json:"payload_length"`
}

func main() {
	flag.Parse()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: recorddump [flags] <file>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *compress && *outPath == "" {
		logger.Error("--compress requires --out")
		os.Exit(2)
	}
	path := flag.Arg(0)

	store, err := recordstore.Open(path, recordstore.Options{
		Access:       recordstore.AccessReadOnly,
		MemoryMapped: *mapped,
	})
	if err != nil {
		logger.Error("open failed", zap.String("path", path), zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	stats, err := store.Stat()
	if err != nil {
		logger.Error("stat failed", zap.Error(err))
		os.Exit(1)
	}

	var report bytes.Buffer
	if *format == "text" {
		fmt.Fprintf(&report, "file: %s\n", path)
		fmt.Fprintf(&report, "records: %d  max key length: %d  file length: %d\n",
			stats.Records, stats.MaxKeyLength, stats.FileLength)
		fmt.Fprintf(&report, "data start: %d  front free: %d  free entries: %d (%d bytes)\n\n",
			stats.DataStart, stats.FrontFree, stats.FreeEntries, stats.FreeBytes)
	}

	enc := json.NewEncoder(&report)
	for slot, err := range store.DumpIndex() {
		if err != nil {
			logger.Error("dump failed", zap.Error(err))
			os.Exit(1)
		}
		key := base64.StdEncoding.EncodeToString(slot.Key)
		if *hexKeys {
			key = hex.EncodeToString(slot.Key)
		}
		if *verbose {
			logger.Info("slot",
				zap.Int("slot", slot.Slot),
				zap.String("key", key),
				zap.Uint64("data_pointer", slot.DataPointer),
				zap.Int("payload_length", slot.PayloadLength))
		}
		switch *format {
		case "json":
			if err := enc.Encode(slotJSON{
				Slot:          slot.Slot,
				Key:           key,
				DataPointer:   slot.DataPointer,
				DataCapacity:  slot.DataCapacity,
				DataCount:     slot.DataCount,
				PayloadLength: slot.PayloadLength,
			}); err != nil {
				logger.Error("encode failed", zap.Error(err))
				os.Exit(1)
			}
		default:
			fmt.Fprintf(&report, "slot %4d  key %-32s  ptr %8d  cap %6d  count %6d  payload %6d\n",
				slot.Slot, key, slot.DataPointer, slot.DataCapacity, slot.DataCount, slot.PayloadLength)
		}
	}

	out := report.Bytes()
	if *compress {
		var packed bytes.Buffer
		zw, err := zstd.NewWriter(&packed)
		if err != nil {
			logger.Error("zstd init failed", zap.Error(err))
			os.Exit(1)
		}
		if _, err := zw.Write(out); err != nil {
			logger.Error("compress failed", zap.Error(err))
			os.Exit(1)
		}
		if err := zw.Close(); err != nil {
			logger.Error("compress failed", zap.Error(err))
			os.Exit(1)
		}
		out = packed.Bytes()
	}

	if *outPath != "" {
		if err := atomic.WriteFile(*outPath, bytes.NewReader(out)); err != nil {
			logger.Error("write report failed", zap.String("out", *outPath), zap.Error(err))
			os.Exit(1)
		}
		return
	}
	os.Stdout.Write(out)
}
