package kernel

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/config"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/logging"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kernelkit/internal/registry"
	"github.com/GriffinCanCode/kernelkit/internal/shm"
)

// environment is the process-wide state every primitive reads: settings,
// diagnostics and the cross-process creation lock.
type environment struct {
	cfg     *config.Config
	dir     string
	log     *logging.Logger
	diag    *logging.Reporter
	metrics *monitoring.Metrics
	ipc     *registry.IPCLock
}

var (
	envMu   sync.RWMutex
	current *environment // Protected by envMu; built on first use
)

// Process-wide handle tables, created on first use.
var (
	threadTable = sync.OnceValue(registry.NewTable[*threadCore])
	semTable    = sync.OnceValue(registry.NewTable[*Semaphore])
	lockerTable = sync.OnceValue(registry.NewTable[*Locker])
	portTable   = sync.OnceValue(registry.NewTable[*Port])
)

func env() *environment {
	envMu.RLock()
	e := current
	envMu.RUnlock()
	if e != nil {
		return e
	}

	envMu.Lock()
	defer envMu.Unlock()
	if current == nil {
		current = buildEnvironment(config.LoadOrDefault(), nil, nil, nil)
	}
	return current
}

func buildEnvironment(cfg *config.Config, log *logging.Logger, metrics *monitoring.Metrics, prev *environment) *environment {
	if log == nil {
		var err error
		log, err = logging.New(logging.FromConfig(cfg.Logging))
		if err != nil {
			log = logging.NewDefault()
		}
	}

	dir := shm.ResolveDir(cfg.IPC.SHMDir)
	lockPath := filepath.Join(dir, cfg.IPC.Prefix+".registry.lock")

	e := &environment{
		cfg:     cfg,
		dir:     dir,
		log:     log,
		diag:    logging.NewReporter(log, 10, 20),
		metrics: metrics,
	}
	if prev != nil && prev.dir == dir && prev.cfg.IPC.Prefix == cfg.IPC.Prefix {
		e.ipc = prev.ipc
	} else {
		e.ipc = registry.NewIPCLock(lockPath)
	}
	return e
}

// Configure replaces the settings used by calls made from now on. Existing
// objects keep the directory and limits they were created with.
func Configure(cfg *config.Config) error {
	if cfg == nil {
		return ErrBadValue
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	envMu.Lock()
	defer envMu.Unlock()

	var (
		log     *logging.Logger
		metrics *monitoring.Metrics
	)
	if current != nil {
		log, metrics = current.log, current.metrics
	}
	current = buildEnvironment(cfg, log, metrics, current)
	return nil
}

// SetLogger routes kernel diagnostics to logger. A nil logger silences them.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := env()

	envMu.Lock()
	defer envMu.Unlock()
	current = buildEnvironment(e.cfg, &logging.Logger{Logger: logger}, e.metrics, e)
}

// SetMetrics makes every primitive record its lifecycle and waits on m.
// Passing nil disables recording.
func SetMetrics(m *monitoring.Metrics) {
	e := env()

	envMu.Lock()
	defer envMu.Unlock()
	next := *e
	next.metrics = m
	current = &next
}

// lockIPC takes the cross-process creation lock. A lock file that cannot be
// used degrades to process-local exclusion, which is reported once per call.
func (e *environment) lockIPC() {
	if err := e.ipc.Lock(); err != nil {
		e.log.Debug("ipc registry lock degraded to process mutex", zap.Error(err))
	}
}

func (e *environment) unlockIPC() {
	e.ipc.Unlock()
}

func (e *environment) objectName(domain Domain, name string) string {
	return shm.ObjectName(e.cfg.IPC.Prefix, string(domain), name)
}

// Stats counts the live handles of each kind in this process.
type Stats struct {
	Threads    int `json:"threads"`
	Semaphores int `json:"semaphores"`
	Lockers    int `json:"lockers"`
	Ports      int `json:"ports"`
}

// ResourceStats returns the current handle counts.
func ResourceStats() Stats {
	return Stats{
		Threads:    threadTable().Len(),
		Semaphores: semTable().Len(),
		Lockers:    lockerTable().Len(),
		Ports:      portTable().Len(),
	}
}

// CurrentTeamID returns the identity of the calling process.
func CurrentTeamID() int64 {
	return int64(os.Getpid())
}
