// Package schema defines the on-chain account layouts the mirror reads (the
// transaction encoding the publish pipeline writes is in pkg/publish). Field names and
// layout are ported from the oracle program's account.h: struct shapes are
// load-bearing (gagliardetto/binary decodes them positionally), comments are
// not.
package schema

import (
	bin "github.com/gagliardetto/binary"

	"github.com/pyth-network/pythd/pkg/keys"
)

// Magic is the 32-bit tag prefixed on every Pyth account.
const Magic = uint32(0xa1b2c3d4)

// Version identifies the account layout version this package decodes.
const Version = uint32(2)

// Account type tags, following AccountHeader.
const (
	AccountTypeUnknown = uint32(iota)
	AccountTypeMapping
	AccountTypeProduct
	AccountTypePrice
	AccountTypeTest
	AccountTypePermissions
)

// MappingSlots is the number of product keys held by one mapping account page.
const MappingSlots = 640

// MaxComponents is the number of per-publisher component slots in a price account.
const MaxComponents = 32

// ExponentDefault is the exponent a fresh price account is created with.
const ExponentDefault = -9

// AccountHeader is the common 16-byte prefix of every account type below.
type AccountHeader struct {
	Magic       uint32
	Version     uint32
	AccountType uint32
	Size        uint32
}

// Valid reports whether the header matches the magic/version this package decodes.
func (h AccountHeader) Valid() bool {
	return h.Magic == Magic && h.Version == Version && h.Size < 65536
}

// MappingAccount is one page of the singly-linked list enumerating every
// product on the oracle. Next is the zero key at the list's tail.
type MappingAccount struct {
	AccountHeader
	Num      uint32
	Unused   uint32
	Next     keys.PublicKey
	Products [MappingSlots]keys.PublicKey
}

// UnmarshalBinary decodes buf into m, validating the header and account type.
func (m *MappingAccount) UnmarshalBinary(buf []byte) error {
	if err := bin.NewBinDecoder(buf).Decode(m); err != nil {
		return err
	}
	if !m.Valid() {
		return ErrBadHeader
	}
	if m.AccountType != AccountTypeMapping {
		return ErrWrongType
	}
	return nil
}

// ProductAccount carries the reference metadata for a single product (symbol,
// asset type, quote currency, ...) as an interned key/value attribute blob,
// plus the head of the product's price account list.
type ProductAccount struct {
	AccountHeader
	FirstPrice keys.PublicKey
	Attrs      [464]byte
}

// UnmarshalBinary decodes buf into p, validating the header and account type.
func (p *ProductAccount) UnmarshalBinary(buf []byte) error {
	if err := bin.NewBinDecoder(buf).Decode(p); err != nil {
		return err
	}
	if !p.Valid() {
		return ErrBadHeader
	}
	if p.AccountType != AccountTypeProduct {
		return ErrWrongType
	}
	return nil
}

// Attributes decodes the packed (len-byte, bytes)* key/value pairs in Attrs
// into a map, trimming to the account's recorded Size the way the mirror's
// bootstrap walk does (spec §4.5).
func (p *ProductAccount) Attributes() (map[string]string, error) {
	n := int(p.Size) - 48
	raw := p.Attrs[:]
	if n >= 0 && n < len(raw) {
		raw = raw[:n]
	}
	return decodeAttrTable(raw)
}

// AttributePairs decodes the same packed attribute blob as Attributes but
// preserves wire order, for callers (the mirror's AttrTable) that intern
// keys in first-seen order.
func (p *ProductAccount) AttributePairs() ([]AttrPair, error) {
	n := int(p.Size) - 48
	raw := p.Attrs[:]
	if n >= 0 && n < len(raw) {
		raw = raw[:n]
	}
	return decodeAttrPairs(raw)
}

// Ema is a time-weighted exponential moving average in rational form:
// Numer/Denom are the decayed, confidence-weighted sums UpdateEMA carries
// across calls, and Val is their quotient at the caller's exponent (spec §4.4).
type Ema struct {
	Val   int64
	Numer int64
	Denom int64
}

// PriceStatus is the trading status of a price or aggregate.
type PriceStatus uint32

const (
	PriceStatusUnknown PriceStatus = iota
	PriceStatusTrading
	PriceStatusHalted
	PriceStatusAuction
	PriceStatusIgnored
)

// PriceInfo is a price/confidence pair at a given slot, used both for a
// publisher's contribution and for the computed aggregate.
type PriceInfo struct {
	Price   int64
	Conf    uint64
	Status  uint32
	CorpAct uint32
	PubSlot uint64
}

// PriceComponent is one publisher's contribution to a price account: the
// value last folded into the aggregate (Agg) and the most recent one
// received but possibly not yet aggregated (Latest).
type PriceComponent struct {
	Publisher keys.PublicKey
	Agg       PriceInfo
	Latest    PriceInfo
}

// PriceAccount is the aggregate price feed for one product: current
// aggregate, EMA pair, previous-trading snapshot and the per-publisher
// component array the aggregator folds over (spec §3, §4.4).
type PriceAccount struct {
	AccountHeader
	PriceType  uint32
	Exponent   int32
	Num        uint32
	NumQt      uint32
	LastSlot   uint64
	ValidSlot  uint64
	Twap       Ema
	Twac       Ema
	Timestamp     int64
	MinPub        uint8
	MessageSent   int8
	MaxLatency    uint8
	Drv3          int8
	Drv4          int32
	Product       keys.PublicKey
	Next          keys.PublicKey
	PrevSlot      uint64
	PrevPrice     int64
	PrevConf      uint64
	PrevTimestamp int64
	Agg           PriceInfo
	Components [MaxComponents]PriceComponent
}

// UnmarshalBinary decodes buf into p, validating the header and account type.
func (p *PriceAccount) UnmarshalBinary(buf []byte) error {
	if err := bin.NewBinDecoder(buf).Decode(p); err != nil {
		return err
	}
	if !p.Valid() {
		return ErrBadHeader
	}
	if p.AccountType != AccountTypePrice {
		return ErrWrongType
	}
	return nil
}

// Component returns the component slot published by pub, or nil if pub has
// no existing slot in this account.
func (p *PriceAccount) Component(pub keys.PublicKey) *PriceComponent {
	for i := range p.Components {
		if p.Components[i].Publisher == pub {
			return &p.Components[i]
		}
	}
	return nil
}
