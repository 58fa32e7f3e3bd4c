package services

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
)

// SourceFilter classifies source addresses against safelist and blocklist prefixes.
// Blocklist entries win over safelist entries. Non-IP sources are always unlisted.
type SourceFilter struct {
	safelist  []netip.Prefix
	blocklist []netip.Prefix
}

// NewSourceFilter parses IP addresses or CIDR prefixes.
func NewSourceFilter(safelist, blocklist []string) (*SourceFilter, error) {
	allow, err := parsePrefixes(safelist)
	if err != nil {
		return nil, fmt.Errorf("invalid safelist: %w", err)
	}
	block, err := parsePrefixes(blocklist)
	if err != nil {
		return nil, fmt.Errorf("invalid blocklist: %w", err)
	}
	return &SourceFilter{safelist: allow, blocklist: block}, nil
}

// Empty reports whether the filter has no entries at all.
func (f *SourceFilter) Empty() bool {
	return f == nil || (len(f.safelist) == 0 && len(f.blocklist) == 0)
}

func (f *SourceFilter) Classify(sourceKey string) admission.SourceClass {
	if f.Empty() {
		return admission.SourceUnlisted
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(sourceKey))
	if err != nil {
		return admission.SourceUnlisted
	}
	addr = addr.Unmap()
	if containsAddr(f.blocklist, addr) {
		return admission.SourceBlocked
	}
	if containsAddr(f.safelist, addr) {
		return admission.SourceSafelisted
	}
	return admission.SourceUnlisted
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
