package platform

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// aes128gcm content-coding constants (RFC 8188, RFC 8291).
const (
	saltLen      = 16
	cekInfo      = "Content-Encoding: aes128gcm\x00"
	nonceInfo    = "Content-Encoding: nonce\x00"
	keyInfoLabel = "WebPush: info\x00"
)

// ErrCiphertext indicates an incoming push body that could not be decoded
// as a valid aes128gcm message for this subscription.
var ErrCiphertext = errors.New("platform: invalid aes128gcm message")

// Decrypt opens an aes128gcm-encoded push body addressed to this
// subscription. The key schedule is the standard Web Push one: ECDH over
// P-256 between the subscription key pair and the sender's ephemeral key,
// mixed with the auth secret through HKDF.
func (rec *Record) Decrypt(body []byte) ([]byte, error) {
	// Header: salt(16) | record size(4) | key id length(1) | key id.
	if len(body) < saltLen+4+1 {
		return nil, fmt.Errorf("%w: truncated header", ErrCiphertext)
	}
	salt := body[:saltLen]
	recordSize := binary.BigEndian.Uint32(body[saltLen : saltLen+4])
	idLen := int(body[saltLen+4])
	if len(body) < saltLen+5+idLen {
		return nil, fmt.Errorf("%w: truncated key id", ErrCiphertext)
	}
	senderPub := body[saltLen+5 : saltLen+5+idLen]
	ciphertext := body[saltLen+5+idLen:]

	if recordSize < 18 {
		return nil, fmt.Errorf("%w: record size %d too small", ErrCiphertext, recordSize)
	}
	// Push messages fit in a single record; multi-record bodies are not
	// something a push service produces for notification payloads.
	if uint64(len(ciphertext)) > uint64(recordSize) {
		return nil, fmt.Errorf("%w: multi-record message", ErrCiphertext)
	}

	priv, err := rec.privateKey()
	if err != nil {
		return nil, err
	}

	sender, err := ecdh.P256().NewPublicKey(senderPub)
	if err != nil {
		return nil, fmt.Errorf("%w: bad sender public key: %v", ErrCiphertext, err)
	}

	shared, err := priv.ECDH(sender)
	if err != nil {
		return nil, fmt.Errorf("ecdh agreement: %w", err)
	}

	authSecret, err := base64.RawURLEncoding.DecodeString(rec.Subscription.Keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("decode auth secret: %w", err)
	}

	// IKM = HKDF(salt=auth, ikm=ecdh_secret, info="WebPush: info" || ua_public || as_public)
	keyInfo := make([]byte, 0, len(keyInfoLabel)+2*65)
	keyInfo = append(keyInfo, keyInfoLabel...)
	keyInfo = append(keyInfo, priv.PublicKey().Bytes()...)
	keyInfo = append(keyInfo, senderPub...)

	prkKey := hkdf.Extract(sha256.New, shared, authSecret)
	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prkKey, keyInfo), ikm); err != nil {
		return nil, fmt.Errorf("derive input keying material: %w", err)
	}

	prk := hkdf.Extract(sha256.New, ikm, salt)
	cek := make([]byte, 16)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(cekInfo)), cek); err != nil {
		return nil, fmt.Errorf("derive content encryption key: %w", err)
	}
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(nonceInfo)), nonce); err != nil {
		return nil, fmt.Errorf("derive nonce: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}

	padded, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}

	// Record format: plaintext || delimiter || zero padding. The final
	// record's delimiter is 0x02.
	trimmed := bytes.TrimRight(padded, "\x00")
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] != 0x02 {
		return nil, fmt.Errorf("%w: missing record delimiter", ErrCiphertext)
	}
	return trimmed[:len(trimmed)-1], nil
}

// privateKey restores the subscription's ECDH private key from the record.
func (rec *Record) privateKey() (*ecdh.PrivateKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("restore private key: %w", err)
	}
	return priv, nil
}
