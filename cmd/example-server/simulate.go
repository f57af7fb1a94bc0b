package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"golang.org/x/time/rate"

	"github.com/manenim/throttler/pkg/limiter"
)

// SimulateCmd paces calls against a handle so its behaviour can be watched.
type SimulateCmd struct {
	Handle string   `arg:"" help:"Handle to call."`
	Key    []string `help:"Key parts for every call." sep:","`
	Calls  int      `short:"n" help:"Number of calls to make." default:"20"`
	Rate   float64  `short:"r" help:"Calls per second." default:"5"`
	Burst  int      `help:"Calls allowed back to back before pacing starts." default:"1"`
	Reset  bool     `help:"Reset the counter before starting."`
}

type simulateResult struct {
	Admitted  int
	Throttled int
}

func (c *SimulateCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, err := openBackend(cfg.Store, log)
	if err != nil {
		return err
	}
	defer b.close()

	l, err := newLimiter(cfg, b.store, log)
	if err != nil {
		return err
	}

	res, err := c.simulate(log.WithContext(ctx), l, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Printf("admitted=%d throttled=%d\n", res.Admitted, res.Throttled)
	return nil
}

func (c *SimulateCmd) simulate(ctx context.Context, l *limiter.Limiter, out io.Writer) (simulateResult, error) {
	var res simulateResult
	opts := []limiter.CallOption{limiter.WithKey(c.Key...)}

	if c.Reset {
		if err := l.Reset(ctx, c.Handle, opts...); err != nil {
			return res, err
		}
	}

	pacer := rate.NewLimiter(rate.Limit(c.Rate), max(c.Burst, 1))
	start := time.Now()
	for i := 1; i <= c.Calls; i++ {
		if err := pacer.Wait(ctx); err != nil {
			return res, err
		}

		throttled, err := l.Throttle(ctx, c.Handle, opts...)
		if err != nil {
			return res, err
		}
		count, err := l.Count(ctx, c.Handle, opts...)
		if err != nil {
			return res, err
		}

		outcome := "admitted"
		if throttled {
			res.Throttled++
			outcome = "throttled"
		} else {
			res.Admitted++
		}
		fmt.Fprintf(out, "%4d  %8s  %-9s  count=%d\n", i, time.Since(start).Truncate(time.Millisecond), outcome, count)
	}
	return res, nil
}
