package instr

import (
	"testing"

	"github.com/arcvm/arcvm/internal/arch"
)

func roundTrip(t *testing.T, ins Instruction) SimpleInstruction {
	t.Helper()
	var enc Encoder
	if _, err := enc.Encode(ins); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var dec Decoder
	got, err := dec.Decode(NewByteStream(enc.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestRoundTripRegister(t *testing.T) {
	ins := Instruction{
		Opcode: arch.OpNot,
		Operands: []Operand{
			{Kind: arch.KindRegister, Size: arch.Qword, RegID: arch.EncodeID(arch.GeneralPurpose, 3)},
		},
	}
	got := roundTrip(t, ins)
	if got.Operands[0].RegID != ins.Operands[0].RegID || got.Operands[0].Size != arch.Qword {
		t.Fatalf("register operand mismatch: %+v", got.Operands[0])
	}
}

func TestRoundTripImmediate(t *testing.T) {
	ins := Instruction{
		Opcode: arch.OpInc,
		Operands: []Operand{
			{Kind: arch.KindImmediate, Size: arch.Dword, Imm: 0xCAFEBABE},
		},
	}
	got := roundTrip(t, ins)
	if got.Operands[0].Imm != 0xCAFEBABE {
		t.Fatalf("immediate mismatch: %#x", got.Operands[0].Imm)
	}
}

func TestRoundTripMemBaseImm(t *testing.T) {
	ins := Instruction{
		Opcode: arch.OpPush,
		Operands: []Operand{
			{Kind: arch.KindMemory, Size: arch.Qword, Addr: 0xF0000010},
		},
	}
	got := roundTrip(t, ins)
	if got.Operands[0].Addr != 0xF0000010 {
		t.Fatalf("memory address mismatch: %#x", got.Operands[0].Addr)
	}
}

func reg(i uint8) uint8 { return arch.EncodeID(arch.GeneralPurpose, i) }

func TestRoundTripComplexForms(t *testing.T) {
	cases := []struct {
		name string
		c    Complex
	}{
		{"base-reg", Complex{Base: ComplexItem{Reg: reg(1)}}},
		{"base-off-reg", Complex{Base: ComplexItem{Reg: reg(1)},
			Offset: &ComplexItem{Reg: reg(2), Negative: true}}},
		{"base-off-reg-imm", Complex{Base: ComplexItem{Reg: reg(1)},
			Offset: &ComplexItem{IsImmediate: true, Imm: 42, ImmSize: arch.Byte}}},
		{"base-off-imm-reg", Complex{Base: ComplexItem{IsImmediate: true, Imm: 100, ImmSize: arch.Word},
			Offset: &ComplexItem{Reg: reg(3)}}},
		{"base-off-imm2", Complex{Base: ComplexItem{IsImmediate: true, Imm: 7, ImmSize: arch.Dword},
			Offset: &ComplexItem{IsImmediate: true, Imm: 9, ImmSize: arch.Dword}}},
		{"base-idx-reg", Complex{Base: ComplexItem{Reg: reg(4)}, Index: &ComplexItem{Reg: reg(5)}}},
		{"base-idx-reg-imm", Complex{Base: ComplexItem{Reg: reg(4)},
			Index: &ComplexItem{IsImmediate: true, Imm: 3, ImmSize: arch.Byte}}},
		{"base-idx-off-reg", Complex{Base: ComplexItem{Reg: reg(6)}, Index: &ComplexItem{Reg: reg(7)},
			Offset: &ComplexItem{Reg: reg(8), Negative: true}}},
		{"base-idx-off-reg2-imm", Complex{Base: ComplexItem{Reg: reg(6)}, Index: &ComplexItem{Reg: reg(7)},
			Offset: &ComplexItem{IsImmediate: true, Imm: 16, ImmSize: arch.Word}}},
		{"base-idx-off-reg-imm-reg", Complex{Base: ComplexItem{Reg: reg(6)},
			Index: &ComplexItem{IsImmediate: true, Imm: 2, ImmSize: arch.Byte},
			Offset: &ComplexItem{Reg: reg(9)}}},
		{"base-idx-off-reg-imm2", Complex{Base: ComplexItem{Reg: reg(6)},
			Index:  &ComplexItem{IsImmediate: true, Imm: 2, ImmSize: arch.Byte},
			Offset: &ComplexItem{IsImmediate: true, Imm: 500, ImmSize: arch.Word}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ins := Instruction{
				Opcode: arch.OpPop,
				Operands: []Operand{
					{Kind: arch.KindComplex, Size: arch.Qword, Complex: tc.c},
				},
			}
			got := roundTrip(t, ins)
			gc := got.Operands[0].Complex
			if gc.Base != tc.c.Base {
				t.Fatalf("base mismatch: got %+v want %+v", gc.Base, tc.c.Base)
			}
			if (gc.Index == nil) != (tc.c.Index == nil) {
				t.Fatalf("index presence mismatch")
			}
			if gc.Index != nil && *gc.Index != *tc.c.Index {
				t.Fatalf("index mismatch: got %+v want %+v", *gc.Index, *tc.c.Index)
			}
			if (gc.Offset == nil) != (tc.c.Offset == nil) {
				t.Fatalf("offset presence mismatch")
			}
			if gc.Offset != nil && *gc.Offset != *tc.c.Offset {
				t.Fatalf("offset mismatch: got %+v want %+v", *gc.Offset, *tc.c.Offset)
			}
		})
	}
}

func TestArityMismatchRejected(t *testing.T) {
	var enc Encoder
	ins := Instruction{Opcode: arch.OpAdd, Operands: []Operand{
		{Kind: arch.KindRegister, Size: arch.Qword, RegID: reg(0)},
	}}
	if _, err := enc.Encode(ins); err != ErrArityMismatch {
		t.Fatalf("expected ErrArityMismatch, got %v", err)
	}
}

func TestDecodeInvalidOpcode(t *testing.T) {
	var dec Decoder
	_, err := dec.Decode(NewByteStream([]byte{0x1B})) // reserved sub-range inside control-flow class
	if err != ErrInvalidOpcode {
		t.Fatalf("expected ErrInvalidOpcode, got %v", err)
	}
}

func TestShortStream(t *testing.T) {
	var dec Decoder
	_, err := dec.Decode(NewByteStream([]byte{byte(arch.OpAdd)}))
	if err != ErrShortStream {
		t.Fatalf("expected ErrShortStream, got %v", err)
	}
}
