// Package publish implements the price-publishing pipeline: a per-symbol
// pending-state cache, slot-driven batching into oracle transactions, and
// dispatch either to an RPC client or a tx-forwarder connection.
package publish

import (
	"encoding/binary"
	"fmt"

	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/schema"
)

// computeBudgetProgram is the well-known ComputeBudget111... program id.
var computeBudgetProgram = mustPublicKey("ComputeBudget111111111111111111111111111111")

const (
	computeBudgetSetUnitLimit uint8 = 2
	computeBudgetSetUnitPrice uint8 = 3
)

// updPriceCmd is the oracle program's upd_price instruction discriminant.
const updPriceCmd int32 = 7

// accountMeta mirrors the teacher's AccountMeta: one entry in an
// instruction's (and ultimately the transaction's) account list, adapted
// from types/account_meta.go to this module's keys.PublicKey.
type accountMeta struct {
	Pubkey     keys.PublicKey
	IsSigner   bool
	IsWritable bool
}

func (a accountMeta) less(b accountMeta) bool {
	if a.IsSigner != b.IsSigner {
		return a.IsSigner
	}
	if a.IsWritable != b.IsWritable {
		return a.IsWritable
	}
	return false
}

// rawInstruction is a program invocation prior to account-index
// compilation: a program id, the accounts it touches, and its opaque data.
type rawInstruction struct {
	Program  keys.PublicKey
	Accounts []accountMeta
	Data     []byte
}

// encodeCompactU16 appends n in the chain's shortvec varint form: 7 data
// bits per byte, high bit set while more bytes follow (spec §6.2).
func encodeCompactU16(buf []byte, n int) []byte {
	v := uint32(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		return append(buf, b)
	}
}

// updPriceInstructionData encodes the little-endian upd_price instruction
// payload described by spec §6.2: version|cmd_code|status|pad|price|conf|pub_slot.
func updPriceInstructionData(version uint32, status schema.PriceStatus, price int64, conf uint64, pubSlot uint64) []byte {
	buf := make([]byte, 4+4+4+4+8+8+8)
	binary.LittleEndian.PutUint32(buf[0:], version)
	binary.LittleEndian.PutUint32(buf[4:], uint32(updPriceCmd))
	binary.LittleEndian.PutUint32(buf[8:], uint32(status))
	binary.LittleEndian.PutUint32(buf[12:], 0) // pad
	binary.LittleEndian.PutUint64(buf[16:], uint64(price))
	binary.LittleEndian.PutUint64(buf[24:], conf)
	binary.LittleEndian.PutUint64(buf[32:], pubSlot)
	return buf
}

// updPriceInstruction builds the upd_price instruction for one symbol:
// account slot 0 = publisher (signer, writable), slot 1 = price account
// (writable), slot 2 = sysvar clock (spec §6.2).
func updPriceInstruction(program, publisher, priceAccount keys.PublicKey, version uint32, status schema.PriceStatus, price int64, conf uint64, pubSlot uint64) rawInstruction {
	return rawInstruction{
		Program: program,
		Accounts: []accountMeta{
			{Pubkey: publisher, IsSigner: true, IsWritable: true},
			{Pubkey: priceAccount, IsSigner: false, IsWritable: true},
			{Pubkey: sysvarClock, IsSigner: false, IsWritable: false},
		},
		Data: updPriceInstructionData(version, status, price, conf, pubSlot),
	}
}

// sysvarClock is the well-known Clock sysvar address consumed by upd_price.
var sysvarClock = mustPublicKey("SysvarC1ock11111111111111111111111111111111")

func mustPublicKey(base58 string) keys.PublicKey {
	pk, err := keys.PublicKeyFromBase58(base58)
	if err != nil {
		panic(fmt.Sprintf("publish: invalid well-known address %q: %v", base58, err))
	}
	return pk
}

func computeUnitLimitInstruction(units uint32) rawInstruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return rawInstruction{Program: computeBudgetProgram, Data: data}
}

func computeUnitPriceInstruction(microLamports uint64) rawInstruction {
	data := make([]byte, 9)
	data[0] = computeBudgetSetUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return rawInstruction{Program: computeBudgetProgram, Data: data}
}

// buildTransaction compiles instructions into the chain's compact
// transaction encoding and signs it with signer, following
// types.NewTransaction/Transaction.MarshalBinary's account-sort-then-
// compact-array layout (header{sig_count,readonly_signed,readonly_unsigned}
// | account-list | recent-hash | instruction-count | {program_idx,
// account_idxs, data}*), adapted to keys.KeyPair/keys.PublicKey.
func buildTransaction(signer keys.KeyPair, recentBlockhash keys.Hash, instructions []rawInstruction) ([]byte, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("publish: requires at least one instruction")
	}
	payer := signer.PublicKey()

	var metas []accountMeta
	var programs []keys.PublicKey
	seenProgram := map[keys.PublicKey]bool{}
	for _, ins := range instructions {
		metas = append(metas, ins.Accounts...)
		if !seenProgram[ins.Program] {
			seenProgram[ins.Program] = true
			programs = append(programs, ins.Program)
		}
	}
	for _, p := range programs {
		metas = append(metas, accountMeta{Pubkey: p})
	}

	uniqIndex := map[keys.PublicKey]int{}
	var uniq []accountMeta
	for _, m := range metas {
		if idx, ok := uniqIndex[m.Pubkey]; ok {
			uniq[idx].IsSigner = uniq[idx].IsSigner || m.IsSigner
			uniq[idx].IsWritable = uniq[idx].IsWritable || m.IsWritable
			continue
		}
		uniqIndex[m.Pubkey] = len(uniq)
		uniq = append(uniq, m)
	}

	// Stable sort: signers first, then writable — mirrors
	// types.NewTransaction's AccountMeta.less ordering.
	sortAccountMetasStable(uniq)

	payerIdx := -1
	for i, m := range uniq {
		if m.Pubkey == payer {
			payerIdx = i
			break
		}
	}
	final := make([]accountMeta, 0, len(uniq)+1)
	if payerIdx >= 0 {
		final = append(final, accountMeta{Pubkey: payer, IsSigner: true, IsWritable: true})
		for i, m := range uniq {
			if i != payerIdx {
				final = append(final, m)
			}
		}
	} else {
		final = append(final, accountMeta{Pubkey: payer, IsSigner: true, IsWritable: true})
		final = append(final, uniq...)
	}

	var header struct {
		numRequiredSigs          uint8
		numReadonlySigned        uint8
		numReadonlyUnsigned      uint8
	}
	accountIndex := make(map[keys.PublicKey]uint8, len(final))
	for i, m := range final {
		accountIndex[m.Pubkey] = uint8(i)
		if m.IsSigner {
			header.numRequiredSigs++
			if !m.IsWritable {
				header.numReadonlySigned++
			}
			continue
		}
		if !m.IsWritable {
			header.numReadonlyUnsigned++
		}
	}

	var msg []byte
	msg = append(msg, header.numRequiredSigs, header.numReadonlySigned, header.numReadonlyUnsigned)
	msg = encodeCompactU16(msg, len(final))
	for _, m := range final {
		msg = append(msg, m.Pubkey.Bytes()...)
	}
	msg = append(msg, recentBlockhash.Bytes()...)
	msg = encodeCompactU16(msg, len(instructions))
	for _, ins := range instructions {
		progIdx, ok := accountIndex[ins.Program]
		if !ok {
			return nil, fmt.Errorf("publish: program %s missing from account list", ins.Program)
		}
		msg = append(msg, progIdx)
		msg = encodeCompactU16(msg, len(ins.Accounts))
		for _, a := range ins.Accounts {
			msg = append(msg, accountIndex[a.Pubkey])
		}
		msg = encodeCompactU16(msg, len(ins.Data))
		msg = append(msg, ins.Data...)
	}

	sig := signer.Sign(msg)

	out := encodeCompactU16(nil, 1)
	out = append(out, sig.Bytes()...)
	out = append(out, msg...)
	return out, nil
}

func sortAccountMetasStable(v []accountMeta) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j].less(v[j-1]); j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
