package tpm2

import (
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// StartupClear sends TPM2_Startup(TPM_SU_CLEAR). A TPM that has already
// been started returns TPM_RC_INITIALIZE, which is treated as success so
// the startup step is idempotent across connections to a running TPM.
func StartupClear(t transport.TPM) error {
	_, err := tpm2.Startup{
		StartupType: tpm2.TPMSUClear,
	}.Execute(t)
	if err != nil {
		if errors.Is(err, tpm2.TPMRCInitialize) {
			// Already started
			return nil
		}
		return fmt.Errorf("tpm2: startup failed: %w", err)
	}
	return nil
}

// ShutdownClear sends TPM2_Shutdown(TPM_SU_CLEAR). Errors are returned
// but callers on failure paths typically ignore them.
func ShutdownClear(t transport.TPM) error {
	_, err := tpm2.Shutdown{
		ShutdownType: tpm2.TPMSUClear,
	}.Execute(t)
	if err != nil {
		return fmt.Errorf("tpm2: shutdown failed: %w", err)
	}
	return nil
}

// PersistentKeyPresent reports whether a key object exists at the given
// persistent handle, by attempting TPM2_ReadPublic against it. An absent
// handle is not an error.
func PersistentKeyPresent(t transport.TPM, handle uint32) (bool, error) {
	_, err := tpm2.ReadPublic{
		ObjectHandle: tpm2.TPMHandle(handle),
	}.Execute(t)
	if err != nil {
		if err == tpm2.TPMRC(0x184) {
			// TPM_RC_VALUE (handle 1): value is out of range or is not correct for the context
			return false, nil
		} else if err == tpm2.TPMRC(0x18b) {
			// TPM_RC_HANDLE (handle 1): the handle is not correct for the use
			return false, nil
		}
		return false, fmt.Errorf("tpm2: failed to read persistent handle %#x: %w", handle, err)
	}
	return true, nil
}

// PrimaryKey references a transient primary key object and its name.
type PrimaryKey struct {
	Handle uint32
	Name   []byte
}

// CreatePrimarySRK creates the Storage Root Key as a transient primary key
// under the owner hierarchy using the TCG reference RSA-2048 SRK template,
// deriving the sensitive data entirely from the hierarchy seed. The caller
// must flush the returned handle, normally after persisting it.
func CreatePrimarySRK(t transport.TPM) (*PrimaryKey, error) {
	primaryKey, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(tpm2.RSASRKTemplate),
	}.Execute(t)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to create primary key: %w", err)
	}
	return &PrimaryKey{
		Handle: uint32(primaryKey.ObjectHandle.HandleValue()),
		Name:   primaryKey.Name.Buffer,
	}, nil
}

// PersistPrimary makes a transient primary key persistent at the given
// handle via TPM2_EvictControl.
func PersistPrimary(t transport.TPM, key *PrimaryKey, handle uint32) error {
	if !IsPersistentHandle(handle) {
		return ErrInvalidSRKHandle
	}
	_, err := tpm2.EvictControl{
		Auth: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		ObjectHandle: &tpm2.NamedHandle{
			Handle: tpm2.TPMHandle(key.Handle),
			Name:   tpm2.TPM2BName{Buffer: key.Name},
		},
		PersistentHandle: tpm2.TPMHandle(handle),
	}.Execute(t)
	if err != nil {
		return fmt.Errorf("tpm2: failed to persist primary key at %#x: %w", handle, err)
	}
	return nil
}

// FlushTransient flushes a transient object handle, ignoring errors on
// handles that are already gone.
func FlushTransient(t transport.TPM, handle uint32) {
	_, _ = tpm2.FlushContext{
		FlushHandle: tpm2.TPMHandle(handle),
	}.Execute(t)
}

// CreateSRK creates the Storage Root Key, persists it at the given handle
// and flushes the transient object. Returns the SRK's name.
func CreateSRK(t transport.TPM, handle uint32) ([]byte, error) {
	if !IsPersistentHandle(handle) {
		return nil, ErrInvalidSRKHandle
	}
	key, err := CreatePrimarySRK(t)
	if err != nil {
		return nil, err
	}
	defer FlushTransient(t, key.Handle)

	if err := PersistPrimary(t, key, handle); err != nil {
		return nil, err
	}
	return key.Name, nil
}

// ReadSRKName reads the cryptographic name of the persistent key at the
// given handle. Needed to use the SRK as a parent in authorized commands.
func ReadSRKName(t transport.TPM, handle uint32) ([]byte, error) {
	readPubRsp, err := tpm2.ReadPublic{
		ObjectHandle: tpm2.TPMHandle(handle),
	}.Execute(t)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to read public area of %#x: %w", handle, err)
	}
	return readPubRsp.Name.Buffer, nil
}

// EvictSRK removes the persistent key at the given handle. Used by tests
// and by explicit re-provisioning.
func EvictSRK(t transport.TPM, handle uint32) error {
	readPubRsp, err := tpm2.ReadPublic{
		ObjectHandle: tpm2.TPMHandle(handle),
	}.Execute(t)
	if err != nil {
		return fmt.Errorf("tpm2: failed to read public area of %#x: %w", handle, err)
	}
	_, err = tpm2.EvictControl{
		Auth: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		ObjectHandle: &tpm2.NamedHandle{
			Handle: tpm2.TPMHandle(handle),
			Name:   readPubRsp.Name,
		},
		PersistentHandle: tpm2.TPMHandle(handle),
	}.Execute(t)
	if err != nil {
		return fmt.Errorf("tpm2: failed to evict persistent handle %#x: %w", handle, err)
	}
	return nil
}
