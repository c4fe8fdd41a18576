// SPDX-License-Identifier: Apache-2.0

// Package ilp defines the ILP PREPARE/FULFILL/REJECT packet boundary
// types PeerAccount forwards over the "ilp" BTP sub-protocol, plus a
// minimal length-prefixed binary codec. The real ILP packet codec (ASN.1
// OER per the interledger spec) is out of scope per spec §1; this codec
// exists only so the demo binary and tests have something concrete to
// marshal.
package ilp

import (
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"
)

// PacketType tags which of the three ILP packet kinds a byte stream holds.
type PacketType byte

const (
	TypePrepare PacketType = 12
	TypeFulfill PacketType = 13
	TypeReject  PacketType = 14
)

// Standard ILP error codes this engine produces, per spec §4.8.
const (
	CodeF00BundledReject         = "F00"
	CodeF08AmountTooLarge        = "F08"
	CodeT04InsufficientLiquidity = "T04"
)

// Prepare is an ILP PREPARE packet. Amount is tracked in gwei throughout
// this engine, per spec §3/§4.8, even though the wire ILP amount field is
// an arbitrary-precision integer in the asset's native scale.
type Prepare struct {
	Destination string
	Amount      *big.Int // gwei
	Condition   [32]byte
	Expiry      int64 // unix nanos
	Data        []byte
}

// Fulfill is an ILP FULFILLment of a PREPARE.
type Fulfill struct {
	Preimage [32]byte
	Data     []byte
}

// Reject is an ILP REJECTion of a PREPARE.
type Reject struct {
	Code        string
	Message     string
	TriggeredBy string
	Data        []byte
}

// RejectF08 builds the "amount too large" rejection spec §4.8 step 2
// requires, carrying the received and maximum amounts in its Data so the
// upstream sender can compute a safe retry size.
func RejectF08(receivedAmount, maximumAmount *big.Int) Reject {
	data := make([]byte, 0, 32)
	data = append(data, []byte(receivedAmount.String())...)
	data = append(data, '|')
	data = append(data, []byte(maximumAmount.String())...)
	return Reject{Code: CodeF08AmountTooLarge, Message: "amount too large", Data: data}
}

// RejectT04 builds the "insufficient liquidity" rejection spec §4.8 step 3
// requires.
func RejectT04(reason string) Reject {
	return Reject{Code: CodeT04InsufficientLiquidity, Message: reason}
}

// RejectBundled synthesizes the generic F00 rejection spec §4.8 step 6
// requires when an uncaught exception occurs while forwarding a PREPARE.
func RejectBundled(cause error) Reject {
	return Reject{Code: CodeF00BundledReject, Message: cause.Error()}
}

// Marshal encodes p as: type byte, varlen destination, 16-byte amount
// (big-endian, zero-padded), 32-byte condition, 8-byte expiry, varlen data.
func (p Prepare) Marshal() ([]byte, error) {
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return nil, errors.New("ilp: prepare amount must be non-negative")
	}
	amountBytes := p.Amount.Bytes()
	if len(amountBytes) > 16 {
		return nil, errors.New("ilp: prepare amount overflows 16 bytes")
	}
	var amountField [16]byte
	copy(amountField[16-len(amountBytes):], amountBytes)

	buf := make([]byte, 0, 1+2+len(p.Destination)+16+32+8+2+len(p.Data))
	buf = append(buf, byte(TypePrepare))
	buf = appendVarBytes(buf, []byte(p.Destination))
	buf = append(buf, amountField[:]...)
	buf = append(buf, p.Condition[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.Expiry))
	buf = appendVarBytes(buf, p.Data)
	return buf, nil
}

// UnmarshalPrepare decodes a PREPARE encoded by Marshal.
func UnmarshalPrepare(data []byte) (Prepare, error) {
	if len(data) < 1 || PacketType(data[0]) != TypePrepare {
		return Prepare{}, errors.New("ilp: not a prepare packet")
	}
	r := &reader{buf: data[1:]}
	dest, err := r.varBytes()
	if err != nil {
		return Prepare{}, errors.Wrap(err, "reading destination")
	}
	amountField, err := r.fixed(16)
	if err != nil {
		return Prepare{}, errors.Wrap(err, "reading amount")
	}
	condition, err := r.fixed(32)
	if err != nil {
		return Prepare{}, errors.Wrap(err, "reading condition")
	}
	expiryField, err := r.fixed(8)
	if err != nil {
		return Prepare{}, errors.Wrap(err, "reading expiry")
	}
	body, err := r.varBytes()
	if err != nil {
		return Prepare{}, errors.Wrap(err, "reading data")
	}

	var cond [32]byte
	copy(cond[:], condition)
	return Prepare{
		Destination: string(dest),
		Amount:      new(big.Int).SetBytes(amountField),
		Condition:   cond,
		Expiry:      int64(binary.BigEndian.Uint64(expiryField)),
		Data:        body,
	}, nil
}

// Marshal encodes f as: type byte, 32-byte preimage, varlen data.
func (f Fulfill) Marshal() []byte {
	buf := make([]byte, 0, 1+32+2+len(f.Data))
	buf = append(buf, byte(TypeFulfill))
	buf = append(buf, f.Preimage[:]...)
	buf = appendVarBytes(buf, f.Data)
	return buf
}

// UnmarshalFulfill decodes a FULFILL encoded by Marshal.
func UnmarshalFulfill(data []byte) (Fulfill, error) {
	if len(data) < 1 || PacketType(data[0]) != TypeFulfill {
		return Fulfill{}, errors.New("ilp: not a fulfill packet")
	}
	r := &reader{buf: data[1:]}
	preimage, err := r.fixed(32)
	if err != nil {
		return Fulfill{}, errors.Wrap(err, "reading preimage")
	}
	body, err := r.varBytes()
	if err != nil {
		return Fulfill{}, errors.Wrap(err, "reading data")
	}
	var pre [32]byte
	copy(pre[:], preimage)
	return Fulfill{Preimage: pre, Data: body}, nil
}

// Marshal encodes r as: type byte, varlen code, varlen message, varlen
// triggeredBy, varlen data.
func (r Reject) Marshal() []byte {
	buf := make([]byte, 0, 1+len(r.Code)+len(r.Message)+len(r.TriggeredBy)+len(r.Data)+8)
	buf = append(buf, byte(TypeReject))
	buf = appendVarBytes(buf, []byte(r.Code))
	buf = appendVarBytes(buf, []byte(r.Message))
	buf = appendVarBytes(buf, []byte(r.TriggeredBy))
	buf = appendVarBytes(buf, r.Data)
	return buf
}

// UnmarshalReject decodes a REJECT encoded by Marshal.
func UnmarshalReject(data []byte) (Reject, error) {
	if len(data) < 1 || PacketType(data[0]) != TypeReject {
		return Reject{}, errors.New("ilp: not a reject packet")
	}
	r := &reader{buf: data[1:]}
	code, err := r.varBytes()
	if err != nil {
		return Reject{}, errors.Wrap(err, "reading code")
	}
	msg, err := r.varBytes()
	if err != nil {
		return Reject{}, errors.Wrap(err, "reading message")
	}
	triggeredBy, err := r.varBytes()
	if err != nil {
		return Reject{}, errors.Wrap(err, "reading triggeredBy")
	}
	body, err := r.varBytes()
	if err != nil {
		return Reject{}, errors.Wrap(err, "reading data")
	}
	return Reject{Code: string(code), Message: string(msg), TriggeredBy: string(triggeredBy), Data: body}, nil
}

func appendVarBytes(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(b)))
	return append(buf, b...)
}

type reader struct {
	buf []byte
}

func (r *reader) fixed(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, errors.New("ilp: unexpected end of packet")
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func (r *reader) varBytes() ([]byte, error) {
	lenField, err := r.fixed(2)
	if err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(lenField))
	return r.fixed(n)
}
