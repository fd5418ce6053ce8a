package soak

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/config"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/logging"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/kernelkit/kernel"
)

// roundTimeout bounds every blocking call in a round, so a wedged peer
// fails the round instead of the worker.
const roundTimeout = 5 * time.Second

// codePing and codePong tag the two directions of the exchange.
const (
	codePing int32 = 1
	codePong int32 = 2
)

// Stats summarises the workload so far.
type Stats struct {
	Workers   int           `json:"workers"`
	Rounds    uint64        `json:"rounds"`
	Messages  uint64        `json:"messages"`
	Failures  uint64        `json:"failures"`
	Skipped   uint64        `json:"skipped"`
	LastRound time.Duration `json:"last_round_ns"`
	IPC       bool          `json:"ipc"`
	Breakers  []string      `json:"breakers"`
}

// Workload runs ping-pong rounds over kernel ports. Each round creates a
// request and a reply port, spawns an echo thread, exchanges messages and
// tears everything down, so every primitive's lifecycle is exercised.
type Workload struct {
	cfg      config.SoakConfig
	logger   *logging.Logger
	breakers []*resilience.Breaker

	// last is guarded by a kernel locker shared by the workers.
	lock *kernel.Locker
	last time.Duration

	rounds   atomic.Uint64
	messages atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
}

// New creates a workload; nothing runs until Run.
func New(cfg config.SoakConfig, logger *logging.Logger) *Workload {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}

	w := &Workload{
		cfg:    cfg,
		logger: logger,
		lock:   kernel.NewLocker(),
	}
	for i := 0; i < cfg.Workers; i++ {
		w.breakers = append(w.breakers, resilience.New(fmt.Sprintf("soak-%d", i), resilience.Settings{
			FailureThreshold: 3,
			Cooldown:         2 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Info("soak breaker state changed",
					zap.String("worker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}))
	}
	return w
}

// Run drives the workers until ctx is cancelled.
func (w *Workload) Run(ctx context.Context) error {
	defer w.lock.Delete()

	g, ctx := errgroup.WithContext(ctx)
	for i := range w.breakers {
		breaker := w.breakers[i]
		g.Go(func() error {
			return w.worker(ctx, breaker)
		})
	}
	return g.Wait()
}

func (w *Workload) worker(ctx context.Context, breaker *resilience.Breaker) error {
	for ctx.Err() == nil {
		err := breaker.Do(func() error { return w.Round(ctx) })
		switch {
		case err == nil:
		case errors.Is(err, resilience.ErrCircuitOpen):
			w.skipped.Add(1)
			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
		case ctx.Err() != nil:
		default:
			w.failures.Add(1)
			w.logger.Warn("soak round failed", zap.String("worker", breaker.Name()), zap.Error(err))
		}
	}
	return nil
}

// Round runs one exchange of 4×capacity messages.
func (w *Workload) Round(ctx context.Context) (err error) {
	start := time.Now()

	requestName, replyName := "", ""
	if w.cfg.IPC {
		id := uuid.New()
		requestName = fmt.Sprintf("soak-%x-q", id[:6])
		replyName = fmt.Sprintf("soak-%x-r", id[:6])
	}

	requests, err := kernel.CreatePort(w.cfg.Capacity, requestName, kernel.AccessOwner)
	if err != nil {
		return fmt.Errorf("create request port: %w", err)
	}
	defer requests.Delete()

	replies, err := kernel.CreatePort(w.cfg.Capacity, replyName, kernel.AccessOwner)
	if err != nil {
		return fmt.Errorf("create reply port: %w", err)
	}
	defer replies.Delete()

	echoed, err := kernel.CreateSemaphore(0, "", kernel.AccessOwner)
	if err != nil {
		return fmt.Errorf("create semaphore: %w", err)
	}
	defer echoed.Delete()

	echo, err := kernel.SpawnThread(func(self *kernel.Self, _ any) int32 {
		return echoLoop(requests, replies, echoed)
	}, "", kernel.NormalPriority, nil)
	if err != nil {
		return fmt.Errorf("spawn echo thread: %w", err)
	}
	defer echo.Delete()
	// Closing the request port ends the echo loop once it has drained.
	defer requests.Close()
	if err := echo.Resume(); err != nil {
		return fmt.Errorf("start echo thread: %w", err)
	}

	total := 4 * w.cfg.Capacity
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- send(ctx, requests, total)
	}()

	for i := 0; i < total; i++ {
		code, payload, err := replies.Read(kernel.Relative(roundTimeout))
		if err != nil {
			return fmt.Errorf("read reply %d: %w", i, err)
		}
		if code != codePong || binary.LittleEndian.Uint64(payload) != uint64(i) {
			return fmt.Errorf("reply %d out of order: code %d", i, code)
		}
	}
	if err := <-sendErr; err != nil {
		return err
	}

	requests.Close()
	status, err := echo.Wait(kernel.Relative(roundTimeout))
	if err != nil {
		return fmt.Errorf("join echo thread: %w", err)
	}
	if int(status) != total {
		return fmt.Errorf("echo thread handled %d of %d messages", status, total)
	}
	if err := echoed.AcquireEtc(int64(total), kernel.NoWait); err != nil {
		return fmt.Errorf("echo count: %w", err)
	}

	w.rounds.Add(1)
	w.messages.Add(uint64(2 * total))
	w.record(time.Since(start))
	return nil
}

func send(ctx context.Context, requests *kernel.Port, total int) error {
	payload := make([]byte, 8)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(payload, uint64(i))
		if err := requests.Write(codePing, payload, kernel.Relative(roundTimeout)); err != nil {
			return fmt.Errorf("write request %d: %w", i, err)
		}
	}
	return nil
}

// echoLoop answers every request until the port closes and returns how
// many it answered.
func echoLoop(requests, replies *kernel.Port, echoed *kernel.Semaphore) int32 {
	var n int32
	for {
		code, payload, err := requests.Read(kernel.Relative(roundTimeout))
		if err != nil {
			return n
		}
		if code != codePing {
			continue
		}
		if err := replies.Write(codePong, payload, kernel.Relative(roundTimeout)); err != nil {
			return n
		}
		echoed.Release(1, 0)
		n++
	}
}

func (w *Workload) record(d time.Duration) {
	if err := w.lock.Lock(kernel.Infinite); err != nil {
		return
	}
	w.last = d
	w.lock.Unlock()
}

// Stats returns a snapshot of the workload counters.
func (w *Workload) Stats() Stats {
	s := Stats{
		Workers:  len(w.breakers),
		Rounds:   w.rounds.Load(),
		Messages: w.messages.Load(),
		Failures: w.failures.Load(),
		Skipped:  w.skipped.Load(),
		IPC:      w.cfg.IPC,
	}
	for _, b := range w.breakers {
		s.Breakers = append(s.Breakers, b.State().String())
	}

	if w.lock.Lock(kernel.Relative(time.Second)) == nil {
		s.LastRound = w.last
		w.lock.Unlock()
	}
	return s
}
