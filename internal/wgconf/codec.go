// Package wgconf parses and serializes the wg-quick configuration text
// format: one [Interface] section followed by zero or more [Peer] sections,
// each a list of "key = value" directives.
package wgconf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedConfig is returned when the text has no [Interface] section or
// no PrivateKey directive.
var ErrMalformedConfig = errors.New("malformed config")

// Directive is a key/value pair the codec does not recognize. Unknown
// directives from hand-edited files are preserved and re-emitted verbatim.
type Directive struct {
	Key   string
	Value string
}

// InterfaceSection holds the [Interface] block of a config.
type InterfaceSection struct {
	Address     string
	ListenPort  int
	PrivateKey  string
	MTU         int
	DNS         []string
	DisableIPv6 bool
	Extra       []Directive
}

// PeerSection holds one [Peer] block.
type PeerSection struct {
	PublicKey           string
	AllowedIPs          []string
	PersistentKeepalive int
	PresharedKey        string
	Endpoint            string
	Extra               []Directive
}

// Config is the parsed form of a configuration file.
type Config struct {
	Interface InterfaceSection
	Peers     []PeerSection
}

// Parse splits a section-tagged text block into an interface section and
// zero or more peer sections. Blank lines and comment lines (# or ;) are
// skipped. Parse is the left inverse of Serialize for canonical fields.
func Parse(text string) (*Config, error) {
	var cfg Config
	var cur *PeerSection
	sawInterface := false
	inInterface := false

	for lineNo, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		switch {
		case strings.EqualFold(line, "[Interface]"):
			sawInterface = true
			inInterface = true
			cur = nil
			continue
		case strings.EqualFold(line, "[Peer]"):
			cfg.Peers = append(cfg.Peers, PeerSection{})
			cur = &cfg.Peers[len(cfg.Peers)-1]
			inInterface = false
			continue
		case strings.HasPrefix(line, "["):
			return nil, fmt.Errorf("%w: unknown section %s at line %d", ErrMalformedConfig, line, lineNo+1)
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected key = value at line %d", ErrMalformedConfig, lineNo+1)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case inInterface:
			applyInterfaceDirective(&cfg.Interface, key, value)
		case cur != nil:
			applyPeerDirective(cur, key, value)
		default:
			return nil, fmt.Errorf("%w: directive %q outside any section at line %d", ErrMalformedConfig, key, lineNo+1)
		}
	}

	if !sawInterface {
		return nil, fmt.Errorf("%w: no [Interface] section", ErrMalformedConfig)
	}
	if cfg.Interface.PrivateKey == "" {
		return nil, fmt.Errorf("%w: no PrivateKey", ErrMalformedConfig)
	}
	return &cfg, nil
}

func applyInterfaceDirective(s *InterfaceSection, key, value string) {
	switch key {
	case "Address":
		s.Address = value
	case "ListenPort":
		s.ListenPort, _ = strconv.Atoi(value)
	case "PrivateKey":
		s.PrivateKey = value
	case "MTU":
		s.MTU, _ = strconv.Atoi(value)
	case "DNS":
		s.DNS = splitList(value)
	case "DisableIPv6":
		s.DisableIPv6 = strings.EqualFold(value, "true")
	default:
		s.Extra = append(s.Extra, Directive{Key: key, Value: value})
	}
}

func applyPeerDirective(p *PeerSection, key, value string) {
	switch key {
	case "PublicKey":
		p.PublicKey = value
	case "AllowedIPs":
		p.AllowedIPs = splitList(value)
	case "PersistentKeepalive":
		p.PersistentKeepalive, _ = strconv.Atoi(value)
	case "PresharedKey":
		p.PresharedKey = value
	case "Endpoint":
		p.Endpoint = value
	default:
		p.Extra = append(p.Extra, Directive{Key: key, Value: value})
	}
}

// Serialize renders the config with canonical key order: Address,
// ListenPort, PrivateKey, MTU, DNS, DisableIPv6 for the interface; PublicKey,
// AllowedIPs, PersistentKeepalive, PresharedKey, Endpoint per peer. Unknown
// directives are re-emitted after the canonical keys of their section.
func Serialize(cfg *Config) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	iface := cfg.Interface
	if iface.Address != "" {
		fmt.Fprintf(&b, "Address = %s\n", iface.Address)
	}
	if iface.ListenPort > 0 {
		fmt.Fprintf(&b, "ListenPort = %d\n", iface.ListenPort)
	}
	if iface.PrivateKey != "" {
		fmt.Fprintf(&b, "PrivateKey = %s\n", iface.PrivateKey)
	}
	if iface.MTU > 0 {
		fmt.Fprintf(&b, "MTU = %d\n", iface.MTU)
	}
	if len(iface.DNS) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(iface.DNS, ", "))
	}
	if iface.DisableIPv6 {
		b.WriteString("DisableIPv6 = true\n")
	}
	for _, d := range iface.Extra {
		fmt.Fprintf(&b, "%s = %s\n", d.Key, d.Value)
	}

	for _, p := range cfg.Peers {
		b.WriteString("\n[Peer]\n")
		if p.PublicKey != "" {
			fmt.Fprintf(&b, "PublicKey = %s\n", p.PublicKey)
		}
		if len(p.AllowedIPs) > 0 {
			fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(p.AllowedIPs, ", "))
		}
		if p.PersistentKeepalive > 0 {
			fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.PersistentKeepalive)
		}
		if p.PresharedKey != "" {
			fmt.Fprintf(&b, "PresharedKey = %s\n", p.PresharedKey)
		}
		if p.Endpoint != "" {
			fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
		}
		for _, d := range p.Extra {
			fmt.Fprintf(&b, "%s = %s\n", d.Key, d.Value)
		}
	}
	return b.String()
}

// splitList splits a comma-separated directive value, trimming whitespace.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
