package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// UnknownOwner is the placeholder for an unresolvable party.
const UnknownOwner = "unknown"

// Side selects the sending or receiving end of a transfer.
type Side string

const (
	From Side = "from"
	To   Side = "to"
)

// arrayKey is the UTXO-style list that carries the side's endpoints.
func (s Side) arrayKey() string {
	if s == From {
		return "inputs"
	}
	return "outputs"
}

// sideCandidates lists the objects describing one side of a transfer, in priority order:
// nested object, flat prefixed fields, first array endpoint.
func sideCandidates(obj map[string]any, side Side) []map[string]any {
	var out []map[string]any
	name := string(side)

	switch nested := obj[name].(type) {
	case map[string]any:
		out = append(out, nested)
	case string:
		out = append(out, map[string]any{"address": nested})
	}

	flat := map[string]any{}
	for _, suffix := range []string{"owner", "owner_type", "address"} {
		if v, ok := obj[name+"_"+suffix]; ok {
			flat[suffix] = v
		}
	}
	if len(flat) > 0 {
		out = append(out, flat)
	}

	if first, ok := AsObject(Lookup(obj, side.arrayKey()+".0")); ok {
		out = append(out, first)
	}
	return out
}

// ResolveOwner labels one side of a transfer. Objects are searched in order; the first
// object that yields an owner or address decides.
func (n *Normalizer) ResolveOwner(side Side, objs ...map[string]any) string {
	var candidates []map[string]any
	for _, obj := range objs {
		if obj != nil {
			candidates = append(candidates, sideCandidates(obj, side)...)
		}
	}

	for _, c := range candidates {
		owner, ok := FirstString(c, OwnerFields)
		if !ok || strings.EqualFold(owner, UnknownOwner) {
			continue
		}
		if label, matched := n.exchanges.Resolve(owner); matched {
			return label
		}
		return owner
	}

	for _, c := range candidates {
		if addr, ok := FirstString(c, AddressFields); ok {
			return ShortenAddress(addr)
		}
	}
	return UnknownOwner
}

// ShortenAddress keeps the first and last six characters of long addresses.
// EVM hex addresses are rendered in their EIP-55 checksum form first.
func ShortenAddress(addr string) string {
	if addr == "" {
		return UnknownOwner
	}
	if strings.HasPrefix(strings.ToLower(addr), "0x") && common.IsHexAddress(addr) {
		addr = common.HexToAddress(addr).Hex()
	}
	if utf8.RuneCountInString(addr) <= 16 {
		return addr
	}
	runes := []rune(addr)
	return string(runes[:6]) + "…" + string(runes[len(runes)-6:])
}
