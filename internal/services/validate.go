package services

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"regexp"

	"github.com/wgfleet/wgfleet/pkg/models"
)

// interfaceNamePattern is the fleet naming convention: literal "wg" prefix
// followed by a small non-negative integer.
var interfaceNamePattern = regexp.MustCompile(`^wg\d{1,3}$`)

// ValidInterfaceName reports whether name matches the fleet convention.
func ValidInterfaceName(name string) bool {
	return interfaceNamePattern.MatchString(name)
}

// ValidateInterface checks an interface record before any external call or
// write. All failures wrap ErrValidation.
func ValidateInterface(iface *models.Interface) error {
	if !ValidInterfaceName(iface.Name) {
		return fmt.Errorf("%w: interface name %q does not match wgN", ErrValidation, iface.Name)
	}
	prefix, err := netip.ParsePrefix(iface.Subnet)
	if err != nil {
		return fmt.Errorf("%w: subnet %q: %v", ErrValidation, iface.Subnet, err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("%w: subnet %q must be IPv4", ErrValidation, iface.Subnet)
	}
	if iface.ListenPort < 1 || iface.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d out of range", ErrValidation, iface.ListenPort)
	}
	if err := ValidateMTU(iface.MTU); err != nil {
		return err
	}
	if err := validateKey("private key", iface.PrivateKey); err != nil {
		return err
	}
	if err := validateKey("public key", iface.PublicKey); err != nil {
		return err
	}
	return nil
}

// ValidateMTU checks an MTU value against the accepted bounds.
func ValidateMTU(mtu int) error {
	if mtu < models.MTUMin || mtu > models.MTUMax {
		return fmt.Errorf("%w: mtu %d outside %d-%d", ErrValidation, mtu, models.MTUMin, models.MTUMax)
	}
	return nil
}

// ValidatePeer checks a peer record before any write.
func ValidatePeer(peer *models.Peer) error {
	if peer.InterfaceID == "" {
		return fmt.Errorf("%w: peer has no interface", ErrValidation)
	}
	if err := validateKey("public key", peer.PublicKey); err != nil {
		return err
	}
	if peer.Address != "" {
		if _, err := netip.ParseAddr(peer.Address); err != nil {
			return fmt.Errorf("%w: peer address %q: %v", ErrValidation, peer.Address, err)
		}
	}
	for _, cidr := range peer.AllowedIPs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("%w: allowed ip %q: %v", ErrValidation, cidr, err)
		}
	}
	return nil
}

// validateKey checks that a WireGuard key is base64 for exactly 32 bytes.
func validateKey(label, key string) error {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return fmt.Errorf("%w: %s is not base64", ErrValidation, label)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: %s must decode to 32 bytes, got %d", ErrValidation, label, len(raw))
	}
	return nil
}
