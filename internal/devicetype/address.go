package devicetype

import (
	"fmt"
	"slices"
	"strings"
)

// AddressSource is the resolved value of a group address config field:
// either a single address or a list whose members all feed one datapoint.
type AddressSource struct {
	multiple  bool
	addresses []string
}

// Single returns a source holding one address.
func Single(address string) AddressSource {
	return AddressSource{addresses: []string{address}}
}

// Multiple returns a source holding a list of addresses.
func Multiple(addresses []string) AddressSource {
	return AddressSource{multiple: true, addresses: slices.Clone(addresses)}
}

// IsMultiple reports whether the field was configured as a list.
func (a AddressSource) IsMultiple() bool { return a.multiple }

// Addresses returns the addresses in configured order.
func (a AddressSource) Addresses() []string { return slices.Clone(a.addresses) }

// Contains reports whether address is one of the source's addresses.
func (a AddressSource) Contains(address string) bool {
	return slices.Contains(a.addresses, address)
}

// Empty reports whether the source holds no address.
func (a AddressSource) Empty() bool { return len(a.addresses) == 0 }

// ResolveAddressSource interprets a raw config value once. Absent values,
// empty strings and empty lists resolve to an empty source. Blank list
// entries are dropped.
func ResolveAddressSource(raw any) (AddressSource, error) {
	switch v := raw.(type) {
	case nil:
		return AddressSource{}, nil
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return Single(s), nil
		}
		return AddressSource{}, nil
	case []string:
		return multipleFrom(v), nil
	case []any:
		list := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return AddressSource{}, fmt.Errorf("%w: element %d is %T", ErrInvalidAddressSource, i, item)
			}
			list = append(list, s)
		}
		return multipleFrom(list), nil
	default:
		return AddressSource{}, fmt.Errorf("%w: %T", ErrInvalidAddressSource, raw)
	}
}

func multipleFrom(list []string) AddressSource {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return AddressSource{}
	}
	return AddressSource{multiple: true, addresses: out}
}
