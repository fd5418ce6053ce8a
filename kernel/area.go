package kernel

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/kernelkit/internal/shm"
)

// MaxAreaSize is the largest area that can be created or resized to.
const MaxAreaSize = 1 << 30

// MaxNameLength is the longest name a named resource may have, in bytes.
const MaxNameLength = shm.MaxNameLength

// Domain is a four-character tag that namespaces named resources, so a port
// and a semaphore may share a name without colliding.
type Domain string

const (
	DomainArea      Domain = "area"
	DomainSemaphore Domain = "sema"
	DomainPort      Domain = "port"
	DomainPortRead  Domain = "prtr"
	DomainPortWrite Domain = "prtw"
)

// Protection selects how an area is mapped.
type Protection uint32

const (
	ProtectRead Protection = 1 << iota
	ProtectWrite
)

// Access selects who else may open a named resource.
type Access uint8

const (
	AccessOwner Access = iota // Creating user only
	AccessGroup               // Creating user and group
	AccessAll                 // Everyone
)

func (a Access) perm() os.FileMode {
	switch a {
	case AccessGroup:
		return 0o660
	case AccessAll:
		return 0o666
	default:
		return 0o600
	}
}

// Area is a named block of memory shared between every process that clones
// it. Only the creator may resize it, and only the creator's Delete removes
// the name.
type Area struct {
	mu          sync.Mutex
	name        string
	domain      Domain
	protection  Protection
	object      string // Backing object name
	dir         string
	seg         *shm.Segment // nil once deleted
	isClone     bool
	ownsBacking bool
}

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return fmt.Errorf("%w: name %q must be 1..%d bytes", ErrBadValue, name, MaxNameLength)
	}
	return nil
}

func (d Domain) validate() error {
	if len(d) != 4 {
		return fmt.Errorf("%w: domain %q must be 4 bytes", ErrBadValue, string(d))
	}
	return nil
}

// CreateArea creates a named area of size bytes. A stale backing object
// left by a crashed process is removed and the creation retried once.
func CreateArea(name string, size int, protection Protection, domain Domain, access Access) (*Area, error) {
	e := env()
	e.lockIPC()
	defer e.unlockIPC()

	return createAreaLocked(e, name, size, protection, domain, access)
}

func createAreaLocked(e *environment, name string, size int, protection Protection, domain Domain, access Access) (*Area, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := domain.validate(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: area size %d", ErrBadValue, size)
	}
	if size > MaxAreaSize {
		return nil, fmt.Errorf("%w: area size %d exceeds %d", ErrNoMemory, size, MaxAreaSize)
	}

	object := e.objectName(domain, name)
	seg, err := shm.Create(e.dir, object, size, access.perm())
	if errors.Is(err, fs.ErrExist) {
		e.log.Debug("replacing stale area", zap.String("name", name), zap.String("domain", string(domain)))
		if err := shm.Unlink(e.dir, object); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, osError("create area", err)
		}
		seg, err = shm.Create(e.dir, object, size, access.perm())
	}
	if err != nil {
		return nil, osError("create area", err)
	}

	e.metrics.RecordCreated("area", "ipc")
	return &Area{
		name:        name,
		domain:      domain,
		protection:  protection,
		object:      object,
		dir:         e.dir,
		seg:         seg,
		ownsBacking: true,
	}, nil
}

// CloneArea maps an existing area. Without ProtectWrite the mapping is
// read-only.
func CloneArea(name string, protection Protection, domain Domain) (*Area, error) {
	e := env()
	e.lockIPC()
	defer e.unlockIPC()

	return cloneAreaLocked(e, name, protection, domain)
}

func cloneAreaLocked(e *environment, name string, protection Protection, domain Domain) (*Area, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := domain.validate(); err != nil {
		return nil, err
	}

	object := e.objectName(domain, name)
	seg, err := shm.Open(e.dir, object, protection&ProtectWrite != 0)
	if err != nil {
		return nil, osError("clone area", err)
	}

	return &Area{
		name:       name,
		domain:     domain,
		protection: protection,
		object:     object,
		dir:        e.dir,
		seg:        seg,
		isClone:    true,
	}, nil
}

// AreaExists reports whether a named area is currently present.
func AreaExists(name string, domain Domain) bool {
	if validateName(name) != nil || domain.validate() != nil {
		return false
	}
	e := env()
	return shm.Exists(e.dir, e.objectName(domain, name))
}

// Name returns the area's name.
func (a *Area) Name() string { return a.name }

// Domain returns the namespace the area lives in.
func (a *Area) Domain() Domain { return a.domain }

// Protection returns the mapping protection requested at create or clone.
func (a *Area) Protection() Protection { return a.protection }

// IsClone reports whether this handle was obtained with CloneArea.
func (a *Area) IsClone() bool { return a.isClone }

// Size returns the mapped length, or 0 after Delete.
func (a *Area) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seg == nil {
		return 0
	}
	return a.seg.Size()
}

// Bytes returns the mapped memory. The slice must not be used after Delete
// or a Resize that shrinks the area.
func (a *Area) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seg == nil {
		return nil
	}
	return a.seg.Bytes()
}

// Resize changes the area's length without moving it. Only the creator may
// resize.
func (a *Area) Resize(size int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seg == nil {
		return ErrDeleted
	}
	if a.isClone || !a.ownsBacking {
		return fmt.Errorf("%w: only the creator may resize area %q", ErrNotAllowed, a.name)
	}
	if size <= 0 {
		return fmt.Errorf("%w: area size %d", ErrBadValue, size)
	}
	if size > MaxAreaSize {
		return fmt.Errorf("%w: area size %d exceeds %d", ErrNoMemory, size, MaxAreaSize)
	}

	if err := a.seg.Resize(size); err != nil {
		return osError("resize area", err)
	}
	return nil
}

// Delete unmaps the area; the creator's Delete also removes the name.
func (a *Area) Delete() error {
	return a.DeleteEtc(a.ownsBacking)
}

// DeleteEtc unmaps the area and removes the name iff noClone is set.
func (a *Area) DeleteEtc(noClone bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seg == nil {
		return ErrDeleted
	}

	e := env()
	err := a.seg.Close()
	a.seg = nil
	if noClone {
		e.lockIPC()
		if uerr := shm.Unlink(a.dir, a.object); uerr != nil && !errors.Is(uerr, fs.ErrNotExist) {
			err = errors.Join(err, uerr)
		}
		e.unlockIPC()
		e.metrics.RecordDestroyed("area", "ipc")
	}
	if err != nil {
		return osError("delete area", err)
	}
	return nil
}

// deleteLocked is DeleteEtc for callers already holding the IPC lock.
func (a *Area) deleteLocked(noClone bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seg == nil {
		return
	}
	a.seg.Close()
	a.seg = nil
	if noClone {
		shm.Unlink(a.dir, a.object)
		env().metrics.RecordDestroyed("area", "ipc")
	}
}
