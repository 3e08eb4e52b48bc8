package diffuser

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the minimal serial port the diffuser needs.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Opener opens a port at path.
type Opener func(path string, opts PortOptions) (Port, error)

// timeoutPort is implemented by ports that support read deadlines.
type timeoutPort interface {
	SetReadTimeout(t time.Duration) error
}

// OpenSerial opens a real serial port.
func OpenSerial(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
