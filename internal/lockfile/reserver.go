package lockfile

// Reservation is a claim on a device held by this process.
type Reservation interface {
	Path() string
	Release() error
}

// Reserver decides which devices are claimed and hands out reservations.
// Locker is the file-backed implementation; Disabled turns arbitration off.
type Reserver interface {
	// InUse reports whether another holder currently claims k.
	InUse(k Key) bool
	// Reserve claims k for this process without blocking.
	Reserve(k Key) (Reservation, error)
}

// Disabled is a Reserver for runs where lock files are switched off: no device
// is ever in use and every reservation succeeds without touching the filesystem.
type Disabled struct{}

type noopReservation struct{}

func (noopReservation) Path() string   { return "" }
func (noopReservation) Release() error { return nil }

// InUse always reports false.
func (Disabled) InUse(Key) bool { return false }

// Reserve always succeeds.
func (Disabled) Reserve(Key) (Reservation, error) { return noopReservation{}, nil }
