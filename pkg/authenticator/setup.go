package authenticator

import (
	"fmt"
	"time"

	"github.com/jeremyhahn/go-authenticator/pkg/metrics"
	"github.com/jeremyhahn/go-authenticator/pkg/tpm2"
)

// Status is the outcome of Setup. No error ever propagates past Setup as
// a panic or return value; callers observe a Status and, on request, a
// read-once message via LastError.
type Status int

const (
	// StatusSuccess means the TPM is started and the SRK occupies its
	// persistent handle.
	StatusSuccess Status = iota

	// StatusProvisioningFailure means a condition the provisioning
	// sequence itself detects: power-up, session open, startup or SRK
	// creation / persistence failed.
	StatusProvisioningFailure

	// StatusRuntimeFailure means an unexpected collaborator failure that
	// is not a provisioning condition, such as filesystem or transport
	// errors.
	StatusRuntimeFailure

	// StatusUnclassified means a failure that fit no other category,
	// recovered at the Setup boundary.
	StatusUnclassified
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusProvisioningFailure:
		return "provisioning_failure"
	case StatusRuntimeFailure:
		return "runtime_failure"
	default:
		return "unclassified"
	}
}

// Setup brings the configured TPM into a usable state: power-up for
// simulated targets, session open, TPM2_Startup, and creation of the
// Storage Root Key at the persistent handle unless one is already there.
// The session is closed before returning on every path once opened.
// Re-running Setup against an already provisioned TPM succeeds without
// creating anything.
//
// A single instance must not have Setup invoked concurrently.
func (a *Authenticator) Setup() (status Status) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.setLastError(fmt.Sprintf("unclassified failure: %v", r))
			status = StatusUnclassified
		}
		metrics.RecordSetup(status.String(), a.config.Target(), time.Since(started))
	}()

	if err := a.openLog(); err != nil {
		a.setLastError(err.Error())
		return StatusRuntimeFailure
	}
	a.logger.Info("TPM setup started")

	err := a.provision()
	if err != nil {
		a.logger.Error(err)
		a.setLastError(err.Error())
	}
	a.logger.Info("TPM setup complete")

	if err == nil {
		return StatusSuccess
	}
	if tpm2.IsProvisioningError(err) {
		return StatusProvisioningFailure
	}
	return StatusRuntimeFailure
}

// provision runs the TPM steps of setup. The session, once opened, is
// closed on every return path.
func (a *Authenticator) provision() error {
	if a.config.UseSimulator {
		if perr := a.powerUp(a.config); perr != nil {
			return tpm2.NewProvisioningError("Simulator powerup failed", perr)
		}
		a.logger.Debug("simulator powered up")
	}

	device, derr := a.openDevice(a.config)
	if derr != nil {
		return tpm2.NewProvisioningError("failed to create a session", derr)
	}
	a.device = device
	defer a.closeSession()

	if serr := tpm2.StartupClear(a.device); serr != nil {
		// The session is open and must not be abandoned mid-protocol.
		if sderr := tpm2.ShutdownClear(a.device); sderr != nil {
			a.logger.Errorf("shutdown after failed startup: %v", sderr)
		}
		return tpm2.NewProvisioningError("TPM startup failed", serr)
	}
	a.logger.Debug("TPM started")

	present, perr := tpm2.PersistentKeyPresent(a.device, a.config.SRKHandle)
	if perr != nil {
		return perr
	}
	if present {
		a.logger.Info("Primary key already installed")
		name, nerr := tpm2.ReadSRKName(a.device, a.config.SRKHandle)
		if nerr != nil {
			return nerr
		}
		a.srkName = name
		return nil
	}

	primary, cerr := tpm2.CreatePrimarySRK(a.device)
	if cerr != nil {
		return tpm2.NewProvisioningError("failed to create the primary key", cerr)
	}
	defer tpm2.FlushTransient(a.device, primary.Handle)
	a.logger.Info("Primary key created")

	if perr := tpm2.PersistPrimary(a.device, primary, a.config.SRKHandle); perr != nil {
		return tpm2.NewProvisioningError("failed to persist the primary key", perr)
	}
	a.logger.Info("Primary key made persistent")

	a.srkName = primary.Name
	return nil
}
