package authenticator

import (
	"crypto/sha256"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-authenticator/pkg/metrics"
	"github.com/jeremyhahn/go-authenticator/pkg/tpm2"
)

// CreateCredential creates a new NIST P-256 ECDSA credential key under the
// persistent SRK and assigns it a random credential ID. The wrapped key
// blobs and the public point land in the instance's named buffers; the
// private key material never leaves the TPM unwrapped. Requires an open
// session.
func (a *Authenticator) CreateCredential() (string, error) {
	if a.device == nil {
		a.setLastError(tpm2.ErrNotConnected.Error())
		metrics.RecordOperation("create_credential", "failure")
		return "", tpm2.ErrNotConnected
	}

	blobs, point, err := tpm2.CreateSigningKey(a.device, a.config.SRKHandle, a.srkName)
	if err != nil {
		a.setLastError(err.Error())
		a.logger.Error(err)
		metrics.RecordOperation("create_credential", "failure")
		return "", err
	}

	a.keyBlobs.One.Set(blobs.Private)
	a.keyBlobs.Two.Set(blobs.Public)
	a.point.One.Set(point.X)
	a.point.Two.Set(point.Y)
	a.credentialID = uuid.NewString()

	a.logger.Infof("credential key created: %s", a.credentialID)
	metrics.RecordOperation("create_credential", "success")
	return a.credentialID, nil
}

// SignData hashes data with SHA-256 and signs the digest with the
// credential key, loading it under the SRK for the duration of the
// operation. The payload and the resulting signature components are
// captured in the instance's named buffers. Requires an open session and
// a prior CreateCredential (or injected key blobs).
func (a *Authenticator) SignData(data []byte) error {
	if a.device == nil {
		a.setLastError(tpm2.ErrNotConnected.Error())
		metrics.RecordOperation("sign", "failure")
		return tpm2.ErrNotConnected
	}

	a.signingData.Set(data)
	digest := sha256.Sum256(data)

	blobs := &tpm2.SigningKeyBlobs{
		Private: a.keyBlobs.One.Bytes(),
		Public:  a.keyBlobs.Two.Bytes(),
	}
	sig, err := tpm2.SignDigest(a.device, a.config.SRKHandle, a.srkName, blobs, digest[:])
	if err != nil {
		a.setLastError(err.Error())
		a.logger.Error(err)
		metrics.RecordOperation("sign", "failure")
		return err
	}

	a.signature.One.Set(sig.R)
	a.signature.Two.Set(sig.S)

	a.logger.Debugf("signed %d bytes with credential %s", len(data), a.credentialID)
	metrics.RecordOperation("sign", "success")
	return nil
}
