// Package identity implements secp256k1 key generation, EIP-191 personal
// message signing and address recovery, and ECIES encryption compatible with
// the eciesjs wire envelope.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/hexcodec"
)

// KeyPair holds a secp256k1 private key and its uncompressed public form.
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  []byte // 65-byte uncompressed 04||X||Y
}

// Generate samples a uniform private key in [1, n-1] and derives its
// uncompressed public key.
func Generate() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInvalidKey, "key generation failed", err)
	}
	return &KeyPair{Private: priv, Public: uncompressedPub(priv.PubKey())}, nil
}

// FromPrivateKeyBytes parses a 32-byte scalar into a KeyPair.
func FromPrivateKeyBytes(b []byte) (*KeyPair, error) {
	if len(b) != 32 {
		return nil, apperr.New(400, apperr.CodeInvalidKey, "private key must be 32 bytes")
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	if priv.Key.IsZero() {
		return nil, apperr.New(400, apperr.CodeInvalidKey, "private key is zero")
	}
	return &KeyPair{Private: priv, Public: uncompressedPub(priv.PubKey())}, nil
}

func uncompressedPub(pub *secp256k1.PublicKey) []byte {
	return pub.SerializeUncompressed()
}

// Address derives the 20-byte Ethereum-style address from an uncompressed
// 65-byte public key: the last 20 bytes of keccak256(X||Y).
func Address(pub65 []byte) ([]byte, error) {
	if len(pub65) != 65 || pub65[0] != 0x04 {
		return nil, apperr.New(400, apperr.CodeInvalidKey, "expected 65-byte uncompressed public key")
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(pub65[1:])
	digest := h.Sum(nil)
	return digest[12:], nil
}

// ChecksumAddress derives and EIP-55 checksums the address for pub65.
func ChecksumAddress(pub65 []byte) (string, error) {
	addr, err := Address(pub65)
	if err != nil {
		return "", err
	}
	return hexcodec.ChecksumAddress(addr), nil
}

// eip191Hash computes keccak256(0x19 || "Ethereum Signed Message:\n" ||
// ascii(len(message)) || message).
func eip191Hash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(message)
	return h.Sum(nil)
}

// Sign produces a 65-byte R||S||V EIP-191 signature over message, V = recid+27.
func Sign(kp *KeyPair, message []byte) ([]byte, error) {
	digest := eip191Hash(message)
	sig := ecdsa.SignCompact(kp.Private, digest, false)
	// SignCompact returns [recoveryID+27, R(32), S(32)]; the wire format here
	// is R||S||V, so rotate the header byte to the tail.
	out := make([]byte, 65)
	copy(out[0:32], sig[1:33])
	copy(out[32:64], sig[33:65])
	out[64] = sig[0]
	return out, nil
}

// RecoverAddress recovers the checksummed address that produced sig over message.
func RecoverAddress(message, sig65 []byte) (string, error) {
	if len(sig65) != 65 {
		return "", apperr.New(400, apperr.CodeInvalidSignature, "signature must be 65 bytes")
	}
	digest := eip191Hash(message)
	compact := make([]byte, 65)
	compact[0] = sig65[64]
	copy(compact[1:33], sig65[0:32])
	copy(compact[33:65], sig65[32:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return "", apperr.Wrap(400, apperr.CodeInvalidSignature, "signature recovery failed", err)
	}
	addr, err := Address(uncompressedPub(pub))
	if err != nil {
		return "", err
	}
	return hexcodec.ChecksumAddress(addr), nil
}

// Verify reports whether sig65 over message recovers to wantAddress
// (case-insensitively).
func Verify(message, sig65 []byte, wantAddress string) bool {
	got, err := RecoverAddress(message, sig65)
	if err != nil {
		return false
	}
	return equalFoldHex(got, wantAddress)
}

func equalFoldHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

const eciesMinLen = 65 + 16 + 16 + 1

// EncryptECIES encrypts plaintext to recipientPub65 using ephemeral-ephemeral
// ECDH, HKDF-SHA256, and AES-256-GCM, returning the base64-encoded envelope
// eph_pub65 || iv16 || tag16 || ct.
func EncryptECIES(recipientPub65, plaintext []byte) (string, error) {
	recipient, err := secp256k1.ParsePubKey(recipientPub65)
	if err != nil {
		return "", apperr.Wrap(400, apperr.CodeInvalidKey, "invalid recipient public key", err)
	}

	ephPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", apperr.Wrap(500, apperr.CodeInvalidKey, "ephemeral key generation failed", err)
	}
	ephPub65 := uncompressedPub(ephPriv.PubKey())

	sharedPub65 := ecdhPoint(ephPriv, recipient)
	key, err := deriveECIESKey(ephPub65, sharedPub65)
	if err != nil {
		return "", err
	}

	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return "", apperr.Wrap(500, apperr.CodeInternal, "iv generation failed", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.Wrap(500, apperr.CodeInternal, "aes cipher init failed", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return "", apperr.Wrap(500, apperr.CodeInternal, "gcm init failed", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-16]
	tag := sealed[len(sealed)-16:]

	envelope := make([]byte, 0, 65+16+16+len(ct))
	envelope = append(envelope, ephPub65...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ct...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecryptECIES reverses EncryptECIES using the recipient's private key.
func DecryptECIES(kp *KeyPair, envelopeB64 string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidBase64, "invalid base64 envelope", err)
	}
	if len(envelope) < eciesMinLen {
		return nil, apperr.New(400, apperr.CodeDecryptionFailed, "envelope shorter than minimum length")
	}

	ephPub65 := envelope[0:65]
	iv := envelope[65:81]
	tag := envelope[81:97]
	ct := envelope[97:]

	ephPub, err := secp256k1.ParsePubKey(ephPub65)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeDecryptionFailed, "invalid ephemeral public key", err)
	}
	sharedPub65 := ecdhPoint(kp.Private, ephPub)
	key, err := deriveECIESKey(ephPub65, sharedPub65)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "aes cipher init failed", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "gcm init failed", err)
	}
	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeDecryptionFailed, "gcm authentication failed", err)
	}
	return plaintext, nil
}

// ecdhPoint returns the uncompressed 65-byte shared point priv*pub.
func ecdhPoint(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) []byte {
	var point secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	shared := secp256k1.NewPublicKey(&result.X, &result.Y)
	return uncompressedPub(shared)
}

// ECDH computes the uncompressed 65-byte shared point between a raw 32-byte
// private key and a 65-byte uncompressed public key. Exposed for MLS node
// key agreement, which reuses this same curve.
func ECDH(priv32 []byte, pub65 []byte) ([]byte, error) {
	kp, err := FromPrivateKeyBytes(priv32)
	if err != nil {
		return nil, err
	}
	pub, err := secp256k1.ParsePubKey(pub65)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidKey, "invalid public key", err)
	}
	return ecdhPoint(kp.Private, pub), nil
}

// GenerateLeafKeyPair creates a fresh secp256k1 key pair for use as an MLS
// leaf or path node key, returning the raw 32-byte private key and 65-byte
// uncompressed public key.
func GenerateLeafKeyPair() (priv32, pub65 []byte, err error) {
	kp, err := Generate()
	if err != nil {
		return nil, nil, err
	}
	return kp.Private.Serialize(), kp.Public, nil
}

// PublicKeyFromPrivate derives the 65-byte uncompressed public key for a raw
// 32-byte private key.
func PublicKeyFromPrivate(priv32 []byte) ([]byte, error) {
	kp, err := FromPrivateKeyBytes(priv32)
	if err != nil {
		return nil, err
	}
	return kp.Public, nil
}

// deriveECIESKey runs HKDF-SHA256 with empty salt/info over
// ikm = ephPub65 || sharedPub65, producing a 32-byte AES key.
func deriveECIESKey(ephPub65, sharedPub65 []byte) ([]byte, error) {
	ikm := append(append([]byte{}, ephPub65...), sharedPub65...)
	r := hkdf.New(sha256.New, ikm, nil, nil)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, apperr.Wrap(500, apperr.CodeInternal, "hkdf derivation failed", err)
	}
	return key, nil
}
