package tpm2

import (
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// SigningKeyBlobs holds the wrapped key material returned by TPM2_Create.
// The private blob is encrypted by the parent and only usable by loading
// it back under the same parent.
type SigningKeyBlobs struct {
	Private []byte
	Public  []byte
}

// ECCPoint is an uncompressed NIST P-256 public point.
type ECCPoint struct {
	X []byte
	Y []byte
}

// ECDSASignature holds the two ECDSA signature components.
type ECDSASignature struct {
	R []byte
	S []byte
}

func eccSigningTemplate() tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgECC,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			SignEncrypt:         true,
			NoDA:                true,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgECC,
			&tpm2.TPMSECCParms{
				Symmetric: tpm2.TPMTSymDefObject{
					Algorithm: tpm2.TPMAlgNull,
				},
				Scheme: tpm2.TPMTECCScheme{
					Scheme: tpm2.TPMAlgECDSA,
					Details: tpm2.NewTPMUAsymScheme(
						tpm2.TPMAlgECDSA,
						&tpm2.TPMSSigSchemeECDSA{
							HashAlg: tpm2.TPMAlgSHA256,
						},
					),
				},
				CurveID: tpm2.TPMECCNistP256,
			},
		),
	}
}

// CreateSigningKey creates a new NIST P-256 ECDSA signing key under the
// persistent parent and returns its wrapped blobs and public point. The
// key is not left loaded.
func CreateSigningKey(t transport.TPM, parentHandle uint32, parentName []byte) (*SigningKeyBlobs, *ECCPoint, error) {
	createRsp, err := tpm2.Create{
		ParentHandle: &tpm2.NamedHandle{
			Handle: tpm2.TPMHandle(parentHandle),
			Name:   tpm2.TPM2BName{Buffer: parentName},
		},
		InPublic: tpm2.New2B(eccSigningTemplate()),
	}.Execute(t)
	if err != nil {
		return nil, nil, fmt.Errorf("tpm2: failed to create signing key: %w", err)
	}

	blobs := &SigningKeyBlobs{
		Private: tpm2.Marshal(createRsp.OutPrivate),
		Public:  tpm2.Marshal(createRsp.OutPublic),
	}

	pub, err := createRsp.OutPublic.Contents()
	if err != nil {
		return nil, nil, fmt.Errorf("tpm2: failed to get public contents: %w", err)
	}
	eccUnique, err := pub.Unique.ECC()
	if err != nil {
		return nil, nil, fmt.Errorf("tpm2: failed to get ECC point: %w", err)
	}
	point := &ECCPoint{
		X: append([]byte(nil), eccUnique.X.Buffer...),
		Y: append([]byte(nil), eccUnique.Y.Buffer...),
	}

	return blobs, point, nil
}

// SignDigest loads the wrapped key under its parent, signs the SHA-256
// digest with ECDSA, and flushes the loaded object before returning.
func SignDigest(t transport.TPM, parentHandle uint32, parentName []byte, blobs *SigningKeyBlobs, digest []byte) (*ECDSASignature, error) {
	priv, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](blobs.Private)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to unmarshal private blob: %w", err)
	}
	pub, err := tpm2.Unmarshal[tpm2.TPM2BPublic](blobs.Public)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to unmarshal public blob: %w", err)
	}

	loadRsp, err := tpm2.Load{
		ParentHandle: &tpm2.NamedHandle{
			Handle: tpm2.TPMHandle(parentHandle),
			Name:   tpm2.TPM2BName{Buffer: parentName},
		},
		InPrivate: *priv,
		InPublic:  *pub,
	}.Execute(t)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to load signing key: %w", err)
	}
	defer func() {
		_, _ = tpm2.FlushContext{
			FlushHandle: loadRsp.ObjectHandle,
		}.Execute(t)
	}()

	signRsp, err := tpm2.Sign{
		KeyHandle: tpm2.NamedHandle{
			Handle: loadRsp.ObjectHandle,
			Name:   loadRsp.Name,
		},
		Digest: tpm2.TPM2BDigest{
			Buffer: digest,
		},
		InScheme: tpm2.TPMTSigScheme{
			Scheme: tpm2.TPMAlgECDSA,
			Details: tpm2.NewTPMUSigScheme(
				tpm2.TPMAlgECDSA,
				&tpm2.TPMSSchemeHash{
					HashAlg: tpm2.TPMAlgSHA256,
				},
			),
		},
		Validation: tpm2.TPMTTKHashCheck{
			Tag: tpm2.TPMSTHashCheck,
		},
	}.Execute(t)
	if err != nil {
		return nil, fmt.Errorf("tpm2: failed to sign digest: %w", err)
	}

	sig, err := signRsp.Signature.Signature.ECDSA()
	if err != nil {
		return nil, fmt.Errorf("tpm2: unexpected signature scheme: %w", err)
	}
	return &ECDSASignature{
		R: append([]byte(nil), sig.SignatureR.Buffer...),
		S: append([]byte(nil), sig.SignatureS.Buffer...),
	}, nil
}
