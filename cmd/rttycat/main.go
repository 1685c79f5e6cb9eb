// Command rttycat decodes a recorded sample file (or stdin) and prints the
// text to stdout. It runs the same decode loop as the daemon without any of
// the network outputs, which makes it handy for checking captures.
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
	"strings"
	"syscall"

	"rttydec/decoder"
	"rttydec/sink"
	"rttydec/source"
	"rttydec/stats"
)

// decode runs one loop over r and writes text to w.
func decode(ctx context.Context, r io.Reader, label string, w io.Writer, logAmbiguous bool) (*stats.Tracker, error) {
	tracker := stats.NewTracker()
	out := sink.NewWriter(w, false, true)
	loop := decoder.NewLoop(source.NewStream(r, label), out, decoder.Options{
		Observer:     tracker,
		LogAmbiguous: logAmbiguous,
	})
	err := loop.Run(ctx)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return tracker, err
}

func main() {
	inPath := flag.String("in", "-", "Sample file to decode, - for stdin")
	showStats := flag.Bool("stats", false, "Print decoder counters to stderr when done")
	logAmbiguous := flag.Bool("log_ambiguous", false, "Log frames whose alignment tied")
	flag.Parse()
	log.SetFlags(0)

	var r io.Reader = os.Stdin
	label := "stdin"
	if *inPath != "" && *inPath != "-" {
		f, err := os.Open(*inPath)
		if err != nil {
			log.Fatalf("Open: %v", err)
		}
		defer f.Close()
		r = f
		label = *inPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker, err := decode(ctx, r, label, os.Stdout, *logAmbiguous)
	if *showStats {
		fmt.Fprintln(os.Stderr, strings.Join(tracker.SnapshotLines(), "\n"))
	}
	if err != nil {
		log.Printf("Decode %s: %v", label, err)
		os.Exit(1)
	}
}
