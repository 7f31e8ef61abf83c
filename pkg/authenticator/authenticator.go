// Package authenticator provisions a TPM and performs credential key
// operations against it. Setup is a failure-tolerant, idempotent sequence
// that guarantees a Storage Root Key exists at a well-known persistent
// handle before any credential operation runs. Cryptographic material
// crossing the package boundary travels in owned buffers, never shared
// slices.
package authenticator

import (
	"fmt"
	"sync"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/jeremyhahn/go-authenticator/pkg/buffer"
	"github.com/jeremyhahn/go-authenticator/pkg/logging"
	"github.com/jeremyhahn/go-authenticator/pkg/tpm2"
)

// NoError is the sentinel returned by LastError when no failure has been
// recorded since the last query.
const NoError = "No error"

// Params configures a new Authenticator. Config is required; the remaining
// fields default to the real implementations and exist so tests can inject
// doubles.
type Params struct {
	Config *tpm2.Config

	// Logger overrides the file-backed event log opened from
	// Config.DataDir/Config.LogFile. Optional.
	Logger *logging.Logger

	// PowerUp overrides the simulator platform power-up step. Optional.
	PowerUp func(*tpm2.Config) error

	// OpenDevice overrides the TPM session factory. Optional.
	OpenDevice func(*tpm2.Config) (transport.TPMCloser, error)
}

// Authenticator owns one TPM session at a time together with the named
// buffers that carry credential key material. A single instance must not
// have Setup or the credential operations invoked concurrently; callers
// serialize. Only the last-error state is internally locked so the
// read-once contract holds even under misuse.
type Authenticator struct {
	config     *tpm2.Config
	logger     *logging.Logger
	ownsLogger bool
	powerUp    func(*tpm2.Config) error
	openDevice func(*tpm2.Config) (transport.TPMCloser, error)

	device  transport.TPMCloser
	srkName []byte

	credentialID string
	keyBlobs     buffer.Pair // One: private blob, Two: public blob
	point        buffer.Pair // One: X, Two: Y
	signingData  buffer.Buffer
	signature    buffer.Pair // One: R, Two: S

	errMu     sync.Mutex
	lastError string
}

// New creates an Authenticator from params. The configuration is validated
// here so Setup can assume a well-formed config.
func New(params *Params) (*Authenticator, error) {
	if params == nil || params.Config == nil {
		return nil, fmt.Errorf("authenticator: Config is required")
	}
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}

	a := &Authenticator{
		config:     params.Config,
		logger:     params.Logger,
		powerUp:    params.PowerUp,
		openDevice: params.OpenDevice,
		lastError:  NoError,
	}
	if a.powerUp == nil {
		a.powerUp = tpm2.PowerUp
	}
	if a.openDevice == nil {
		a.openDevice = tpm2.OpenDevice
	}
	return a, nil
}

// LastError returns the message recorded by the most recent failing
// operation and atomically resets it to the NoError sentinel. Callers must
// read it immediately after a failing call; a second read returns the
// sentinel.
func (a *Authenticator) LastError() string {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	msg := a.lastError
	a.lastError = NoError
	return msg
}

func (a *Authenticator) setLastError(msg string) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	a.lastError = msg
}

// openLog opens the file-backed event log unless one was injected.
func (a *Authenticator) openLog() error {
	if a.logger != nil {
		return nil
	}
	logger, err := logging.NewFileLogger(a.config.DataDir, a.config.LogFile, a.config.Debug)
	if err != nil {
		return err
	}
	a.logger = logger
	a.ownsLogger = true
	return nil
}

// Open opens a TPM session for credential operations and reads the SRK
// name. Setup must have provisioned the SRK first, on this run or an
// earlier one.
func (a *Authenticator) Open() error {
	if a.device != nil {
		return nil
	}
	if err := a.openLog(); err != nil {
		a.setLastError(err.Error())
		return err
	}

	device, err := a.openDevice(a.config)
	if err != nil {
		err = tpm2.NewProvisioningError("failed to create a session", err)
		a.setLastError(err.Error())
		return err
	}
	a.device = device

	if err := tpm2.StartupClear(a.device); err != nil {
		_ = tpm2.ShutdownClear(a.device)
		a.closeSession()
		err = tpm2.NewProvisioningError("TPM startup failed", err)
		a.setLastError(err.Error())
		return err
	}

	name, err := tpm2.ReadSRKName(a.device, a.config.SRKHandle)
	if err != nil {
		a.closeSession()
		a.setLastError(err.Error())
		return err
	}
	a.srkName = name
	return nil
}

// closeSession closes the open TPM session, if any.
func (a *Authenticator) closeSession() {
	if a.device == nil {
		return
	}
	if err := a.device.Close(); err != nil && a.logger != nil {
		a.logger.Errorf("failed to close TPM session: %v", err)
	}
	a.device = nil
}

// ReleaseMemory releases every named buffer the instance holds.
func (a *Authenticator) ReleaseMemory() {
	a.keyBlobs.Release()
	a.point.Release()
	a.signingData.Release()
	a.signature.Release()
	a.credentialID = ""
	a.srkName = nil
}

// Close tears down the instance: if a session is still open it is shut
// down and closed (keys loaded into it must already have been flushed),
// every named buffer is released, and an owned log file is closed. Safe to
// call more than once.
func (a *Authenticator) Close() error {
	if a.device != nil {
		_ = tpm2.ShutdownClear(a.device)
		a.closeSession()
	}
	a.ReleaseMemory()

	if a.ownsLogger && a.logger != nil {
		err := a.logger.Close()
		a.logger = nil
		a.ownsLogger = false
		return err
	}
	return nil
}

// Diagnostic buffer accessors. Get returns a deep copy, put deep-copies the
// argument in. Testing surface only, subject to removal.

// KeyBlobs returns a copy of the credential key blob pair.
func (a *Authenticator) KeyBlobs() buffer.Pair { return a.keyBlobs.Clone() }

// SetKeyBlobs replaces the credential key blob pair with a copy of p.
func (a *Authenticator) SetKeyBlobs(p *buffer.Pair) { a.keyBlobs.CopyFrom(p) }

// Point returns a copy of the credential public point pair.
func (a *Authenticator) Point() buffer.Pair { return a.point.Clone() }

// SetPoint replaces the credential public point pair with a copy of p.
func (a *Authenticator) SetPoint(p *buffer.Pair) { a.point.CopyFrom(p) }

// SigningData returns a copy of the pending signing payload.
func (a *Authenticator) SigningData() buffer.Buffer { return a.signingData.Clone() }

// SetSigningData replaces the pending signing payload with a copy of b.
func (a *Authenticator) SetSigningData(b *buffer.Buffer) { a.signingData.CopyFrom(b) }

// Signature returns a copy of the latest signature component pair.
func (a *Authenticator) Signature() buffer.Pair { return a.signature.Clone() }

// SetSignature replaces the signature component pair with a copy of p.
func (a *Authenticator) SetSignature(p *buffer.Pair) { a.signature.CopyFrom(p) }

// CredentialID returns the identifier assigned by CreateCredential.
func (a *Authenticator) CredentialID() string { return a.credentialID }
