package wgnet

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// KeyGenerator produces WireGuard key material.
type KeyGenerator interface {
	// NewKeyPair returns a fresh private/public key pair, base64-encoded.
	NewKeyPair() (privateKey, publicKey string, err error)

	// NewPresharedKey returns a fresh preshared key, base64-encoded.
	NewPresharedKey() (string, error)

	// PublicFor derives the public key for a base64 private key.
	PublicFor(privateKey string) (string, error)
}

// Compile-time interface guard.
var _ KeyGenerator = (*WGKeys)(nil)

// WGKeys implements KeyGenerator via wgtypes.
type WGKeys struct{}

// NewWGKeys creates a KeyGenerator.
func NewWGKeys() *WGKeys {
	return &WGKeys{}
}

func (WGKeys) NewKeyPair() (string, string, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate private key: %w", err)
	}
	return priv.String(), priv.PublicKey().String(), nil
}

func (WGKeys) NewPresharedKey() (string, error) {
	key, err := wgtypes.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate preshared key: %w", err)
	}
	return key.String(), nil
}

func (WGKeys) PublicFor(privateKey string) (string, error) {
	priv, err := wgtypes.ParseKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return priv.PublicKey().String(), nil
}
