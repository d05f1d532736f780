package hosts

import (
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/wire"
)

// Policy is the settings-derived address filter applied at both load
// and save time (§4.9): "reject if unspecified, disabled ..., services
// insufficient, unsupported, peered, blacklisted, or not whitelisted."
type Policy struct {
	EnableIPv6      bool
	ServicesMinimum uint64
	InvalidServices uint64
	Peers           map[wire.Authority]struct{} // manual peers, excluded from the pool
	Blacklist       map[wire.Authority]struct{}
	Whitelist       map[wire.Authority]struct{} // empty means "no whitelist restriction"
}

// Admit reports whether item may enter the pool under p, and if not,
// the specific reason.
func (p Policy) Admit(item wire.AddressItem) (bool, errcode.Code) {
	auth := item.Authority
	if auth == (wire.Authority{}) {
		return false, errcode.AddressInvalid
	}
	if !p.EnableIPv6 && !auth.IsIPv4() {
		return false, errcode.AddressDisabled
	}
	if item.Services&p.ServicesMinimum != p.ServicesMinimum {
		return false, errcode.AddressInsufficient
	}
	if p.InvalidServices != 0 && item.Services&p.InvalidServices != 0 {
		return false, errcode.AddressUnsupported
	}
	if _, peered := p.Peers[auth]; peered {
		return false, errcode.AddressBlocked
	}
	if _, blocked := p.Blacklist[auth]; blocked {
		return false, errcode.AddressBlocked
	}
	if len(p.Whitelist) > 0 {
		if _, allowed := p.Whitelist[auth]; !allowed {
			return false, errcode.AddressBlocked
		}
	}
	return true, errcode.Success
}
