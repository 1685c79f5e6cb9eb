package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"rttydec/config"
)

// Feed is an open sample source.
type Feed interface {
	ReadSamples(ctx context.Context, dst []byte) (int, error)
	io.Closer
	fmt.Stringer
}

// Open builds the feed described by cfg. stdin is used for the stdin kind so
// callers and tests can substitute it.
func Open(ctx context.Context, cfg config.SourceConfig, stdin io.Reader) (Feed, error) {
	readTimeout := time.Duration(cfg.ReadTimeoutSeconds) * time.Second
	dialTimeout := time.Duration(cfg.DialTimeoutSeconds) * time.Second
	switch cfg.Kind {
	case config.SourceMulticast:
		return JoinMulticast(ctx, cfg.Group, cfg.Port, cfg.Interface, readTimeout)
	case config.SourceTCP:
		return Dial(ctx, cfg.Address, false, dialTimeout, readTimeout)
	case config.SourceTelnet:
		return Dial(ctx, cfg.Address, true, dialTimeout, readTimeout)
	case config.SourceFile:
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("source: open %s: %w", cfg.Path, err)
		}
		return NewStream(f, "file "+cfg.Path), nil
	case config.SourceStdin:
		return NewStream(io.NopCloser(stdin), "stdin"), nil
	default:
		return nil, fmt.Errorf("source: unknown kind %q", cfg.Kind)
	}
}
