package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/control"
	"github.com/momentics/hioload-dma/facade"
	"github.com/momentics/hioload-dma/fake"
	"github.com/momentics/hioload-dma/internal/memlock"
)

const (
	benchSender   api.NodeID = 1
	benchReceiver api.NodeID = 2
)

// BenchOptions controls a bench run.
type BenchOptions struct {
	Rounds      int
	Size        int
	MemoryLock  bool
	MetricsAddr string
	Dump        bool
}

// BenchResult summarises a bench run.
type BenchResult struct {
	Rounds   int           `json:"rounds"`
	Bytes    int64         `json:"bytes"`
	Elapsed  time.Duration `json:"elapsed"`
	Received int64         `json:"received"`
	Pins     int64         `json:"pins"`
	Hits     int64         `json:"cache_hits"`
}

// Throughput returns bytes per second.
func (r BenchResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds()
}

// NewBenchCmd creates the bench command.
func NewBenchCmd() *cobra.Command {
	var opts BenchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run rendezvous transfers between two fabric NICs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
				Level(cfg.Level()).With().Timestamp().Logger()
			res, err := RunBench(cmd.Context(), cfg, opts, log, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rounds=%d bytes=%d elapsed=%s throughput=%.1f MiB/s pins=%d cache_hits=%d\n",
				res.Rounds, res.Bytes, res.Elapsed, res.Throughput()/(1<<20), res.Pins, res.Hits)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 1000, "Number of transfers")
	cmd.Flags().IntVar(&opts.Size, "size", 64<<10, "Bytes per transfer")
	cmd.Flags().BoolVar(&opts.MemoryLock, "memlock", false, "Pin registered ranges with mlock")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&opts.Dump, "dump", false, "Print debug probes as JSON after the run")
	return cmd
}

// RunBench performs opts.Rounds rendezvous transfers from one NIC to the
// other, reusing one source and one destination buffer.
func RunBench(ctx context.Context, cfg *control.Config, opts BenchOptions, log zerolog.Logger, out io.Writer) (BenchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Rounds <= 0 || opts.Size <= 0 || opts.Size > cfg.MaxBlockLen {
		return BenchResult{}, api.Errorf(api.ErrCodeInvalidArgument,
			"rounds must be positive and size in 1..%d", cfg.MaxBlockLen)
	}

	var fabricOpts []fake.Option
	if opts.MemoryLock {
		if !memlock.Supported() {
			log.Warn().Msg("memory locking is not supported on this platform")
		}
		fabricOpts = append(fabricOpts, fake.WithMemoryLock(memlock.Lock, memlock.Unlock))
	}
	fabric := fake.NewFabric(fabricOpts...)

	var received atomic.Int64
	notifier := api.NotifierFunc(func(id int, sig api.Signal) {
		if sig.Err != nil {
			log.Warn().Err(sig.Err).Int("notify_id", id).Stringer("reason", sig.Reason).Msg("transfer failed")
			return
		}
		if sig.Reason == api.SignalDataReceived {
			received.Add(int64(sig.Length))
		}
	})

	reg := control.NewMetricsRegistry()
	h, err := facade.New(&facade.Config{
		Engine:      cfg.Engine(fabric.Driver(benchSender, benchReceiver), notifier, log, reg),
		Pool:        cfg.BufferPool(),
		EnableDebug: cfg.EnableDebug || opts.Dump,
	})
	if err != nil {
		return BenchResult{}, err
	}
	defer h.Shutdown()

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: control.MetricsHandler(reg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		log.Info().Str("addr", opts.MetricsAddr).Msg("serving metrics")
	}

	sendH, recvH, err := benchLink(h)
	if err != nil {
		return BenchResult{}, err
	}
	src := h.AcquireBuffer(opts.Size)
	defer src.Release()
	dst := h.AcquireBuffer(opts.Size)
	defer dst.Release()
	for i := range src.Bytes() {
		src.Bytes()[i] = byte(i)
	}

	start := time.Now()
	for round := 0; round < opts.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return BenchResult{}, err
		}
		if err := h.SendRequest(sendH); err != nil {
			return BenchResult{}, fmt.Errorf("round %d: %w", round, err)
		}
		if err := h.PostBuffer(recvH, dst.Bytes()); err != nil {
			return BenchResult{}, fmt.Errorf("round %d: %w", round, err)
		}
		if err := drain(h); err != nil {
			return BenchResult{}, fmt.Errorf("round %d: %w", round, err)
		}
		if err := h.SendBuffer(sendH, src.Bytes()); err != nil {
			return BenchResult{}, fmt.Errorf("round %d: %w", round, err)
		}
		if err := drain(h); err != nil {
			return BenchResult{}, fmt.Errorf("round %d: %w", round, err)
		}
		if n, ok, err := h.InputLength(recvH); err != nil || !ok || n != opts.Size {
			return BenchResult{}, api.Errorf(api.ErrCodeProtocolViolation,
				"round %d: received %d of %d bytes", round, n, opts.Size).WithCause(err)
		}
	}
	res := BenchResult{
		Rounds:   opts.Rounds,
		Bytes:    int64(opts.Rounds) * int64(opts.Size),
		Elapsed:  time.Since(start),
		Received: received.Load(),
	}
	for _, s := range h.GetRuntime().Snapshot() {
		res.Pins += s.Cache.Pins
		res.Hits += s.Cache.Hits
	}
	log.Info().Int("rounds", res.Rounds).Dur("elapsed", res.Elapsed).Msg("bench finished")

	if opts.Dump {
		if err := h.GetDebugAPI().WriteJSON(out); err != nil {
			return res, err
		}
	}
	return res, nil
}

func benchLink(h *facade.HioloadDMA) (facade.Handle, facade.Handle, error) {
	a, err := h.OpenDevice(0)
	if err != nil {
		return facade.Handle{}, facade.Handle{}, err
	}
	b, err := h.OpenDevice(1)
	if err != nil {
		return facade.Handle{}, facade.Handle{}, err
	}
	out, err := h.InitOutput(a)
	if err != nil {
		return facade.Handle{}, facade.Handle{}, err
	}
	in, err := h.InitInput(b)
	if err != nil {
		return facade.Handle{}, facade.Handle{}, err
	}
	oi, err := h.OutputInfo(out)
	if err != nil {
		return facade.Handle{}, facade.Handle{}, err
	}
	ii, err := h.InputInfo(in)
	if err != nil {
		return facade.Handle{}, facade.Handle{}, err
	}
	if err := h.ConnectOutput(out, ii.Node, ii.Port, ii.Mux); err != nil {
		return facade.Handle{}, facade.Handle{}, err
	}
	if err := h.ConnectInput(in, oi.Node, oi.Port, oi.Mux); err != nil {
		return facade.Handle{}, facade.Handle{}, err
	}
	return out, in, nil
}

// drain pumps until a pass handles nothing.
func drain(h *facade.HioloadDMA) error {
	for {
		n, err := h.PumpEvents()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
