package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	plog "pixelpandemonium.ai/internal/persistence/log"
	"pixelpandemonium.ai/internal/persistence/snapshot"
	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/session"
)

var errStop = errors.New("stop")

func main() {
	var (
		snapPath     = flag.String("snapshot", "", "path to .snap.zst")
		dataDir      = flag.String("data", "", "data dir containing orders/orders-*.jsonl.zst (optional)")
		catalogsPath = flag.String("catalogs", "", "path to catalogs.yaml (must match the recording)")
		toSeq        = flag.Uint64("to_seq", 0, "stop at seq (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d session=%s seq=%d time=%d timers=%d total_pixels=%d chat=%d nfts=%d\n",
		snap.Header.Version, snap.Header.SessionID, snap.Header.Seq, snap.Header.Time,
		len(snap.Timers), snap.Canvas.TotalPixels, len(snap.Canvas.Chat), len(snap.Canvas.NFTs))

	if *dataDir == "" {
		return
	}

	cats, err := catalogs.Load(*catalogsPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	rep, err := session.Restore(cats, snap, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}

	files, err := plog.OrderFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list orders:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no orders files found in", filepath.Join(*dataDir, "orders"))
		os.Exit(1)
	}

	var checked uint64
	for _, path := range files {
		err := replayFile(rep, path, *toSeq, &checked)
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d orders (from snapshot seq=%d to seq=%d) digest=%s\n",
		checked, snap.Header.Seq, rep.Seq(), rep.Digest())
}

func replayFile(rep *session.Replica, path string, toSeq uint64, checked *uint64) error {
	return plog.ScanOrders(path, func(e plog.OrderEntry) error {
		if e.Seq <= rep.Seq() {
			return nil
		}
		if toSeq != 0 && e.Seq > toSeq {
			return errStop
		}
		if err := rep.Deliver(e.Ordered); err != nil {
			return fmt.Errorf("%s: seq %d: %w", filepath.Base(path), e.Seq, err)
		}
		*checked++
		if got := rep.Digest(); got != e.Digest {
			return fmt.Errorf("digest mismatch at seq %d: got=%s want=%s", e.Seq, got, e.Digest)
		}
		return nil
	})
}
