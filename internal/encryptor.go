package internal

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// SignatureEncoding selects the base64 alphabet used for the final signature.
// The gateway expects standard base64 on the outbound form and posts its
// notifications back with the URL-safe alphabet; which side uses which is an
// external contract, so the caller always states it explicitly.
type SignatureEncoding int

const (
	EncodingStandard SignatureEncoding = iota
	EncodingURLSafe
)

// Encryptor signs and verifies one gateway payload. The signing key is not
// the shared secret itself: a per-order key is derived by 3DES-encrypting the
// order number with the secret, and the HMAC-SHA256 is computed with that
// derived key over the Base64-encoded parameters. The derived key lives only
// for the duration of one call and is never persisted or logged.
type Encryptor struct {
	secret     string // shared merchant secret, Base64-encoded 24 bytes
	parameters string // Base64-encoded JSON parameters, signed as-is
	order      string // order number the key is derived from
	encoding   SignatureEncoding
}

func NewEncryptor(secret string, parameters string, order string, encoding SignatureEncoding) *Encryptor {
	return &Encryptor{
		secret:     secret,
		parameters: parameters,
		order:      order,
		encoding:   encoding,
	}
}

func (e *Encryptor) CreateSignature() (string, error) {

	key, err := base64.StdEncoding.DecodeString(e.secret)
	if err != nil {
		return "", fmt.Errorf("%w: decode secret: %v", ErrKeyDerivation, err)
	}
	if len(key) != 24 {
		return "", fmt.Errorf("%w: secret is %d bytes, want 24", ErrKeyDerivation, len(key))
	}

	// derive the per-order key with 3DES
	orderKey, err := e.encrypt3DES(e.order, key)
	if err != nil {
		return "", fmt.Errorf("%w: encrypt3DES: %v", ErrKeyDerivation, err)
	}

	// create hash with SHA256
	hash := e.mac256(e.parameters, orderKey)

	return e.encode(hash), nil
}

// VerifySignature recomputes the signature and compares it against the
// received one in constant time. Any internal failure counts as "does not
// verify": the method never returns an error a careless caller could ignore.
func (e *Encryptor) VerifySignature(received string) bool {
	if received == "" {
		return false
	}
	expected, err := e.CreateSignature()
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(e.normalize(received)))
}

// encrypt3DES derives the order key: null-pad the plaintext to the cipher
// block size and run a single 3DES-CBC pass with a zero IV. This reproduces
// the gateway's published key-derivation step exactly; switching to PKCS
// padding or a random IV silently breaks every signature.
func (e *Encryptor) encrypt3DES(plainText string, key []byte) ([]byte, error) {
	if plainText == "" {
		return nil, fmt.Errorf("plainText cannot be empty")
	}

	toEncryptArray := []byte(plainText)

	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, err
	}

	// SALT used in 3DES encryption process
	salt := []byte{0, 0, 0, 0, 0, 0, 0, 0}

	// Padding
	padding := block.BlockSize() - len(toEncryptArray)%block.BlockSize()
	addText := bytes.Repeat([]byte{0}, padding)
	toEncryptArray = append(toEncryptArray, addText...)

	ciphertext := make([]byte, len(toEncryptArray))

	// Create the CBC mode
	mode := cipher.NewCBCEncrypter(block, salt)

	// Encrypt
	mode.CryptBlocks(ciphertext, toEncryptArray)

	return ciphertext, nil
}

func (e *Encryptor) mac256(message string, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

func (e *Encryptor) encode(hash []byte) string {
	if e.encoding == EncodingURLSafe {
		return base64.URLEncoding.EncodeToString(hash)
	}
	return base64.StdEncoding.EncodeToString(hash)
}

// normalize maps a received signature onto the engine's alphabet before the
// constant-time comparison. Browser form transport turns '+' into a space,
// and some gateway endpoints answer with the other base64 alphabet than the
// one they accept.
func (e *Encryptor) normalize(signature string) string {
	signature = strings.ReplaceAll(signature, " ", "+")
	if e.encoding == EncodingURLSafe {
		signature = strings.ReplaceAll(signature, "+", "-")
		signature = strings.ReplaceAll(signature, "/", "_")
	} else {
		signature = strings.ReplaceAll(signature, "-", "+")
		signature = strings.ReplaceAll(signature, "_", "/")
	}
	return signature
}
