package instr

import "github.com/arcvm/arcvm/internal/arch"

// Descriptor bit layout (LSB-first): type:4 | size:2 | imm0Size:2.
// Extended forms carry one additional byte: imm1Size:2 | reserved:6.
//
// This codec always emits the unfused form (one or two descriptor
// bytes per operand, in operand order, followed by all payloads in
// operand order). spec.md §4.1 permits the encoder to additionally
// fuse two extended descriptors into a 16-bit field, or three into a
// 24-bit triple-extended field; no grounded source pins that fused
// bit layout exactly, so this encoder never emits it and the decoder
// only recognizes the unfused layout. See DESIGN.md.

func descriptorByte(form arch.CompactForm, size, imm0Size arch.OperandSize) byte {
	return byte(form) | byte(size)<<4 | byte(imm0Size)<<6
}

func parseDescriptorByte(b byte) (form arch.CompactForm, size, imm0Size arch.OperandSize) {
	form = arch.CompactForm(b & 0x0F)
	size = arch.OperandSize((b >> 4) & 0x3)
	imm0Size = arch.OperandSize((b >> 6) & 0x3)
	return
}

func extendedByte(imm1Size arch.OperandSize) byte {
	return byte(imm1Size) & 0x3
}

func parseExtendedByte(b byte) (imm1Size arch.OperandSize) {
	return arch.OperandSize(b & 0x3)
}

// regByte packs a plain register operand's payload: the id as arch
// already lays it out (kind in the high nibble, index in the low one).
func regByte(id uint8) byte { return id }

func unpackRegByte(b byte) uint8 { return b }

// signedRegByte packs a complex-offset register term, which overloads
// the id byte's top bit as the sign flag (kind only needs 3 bits: the
// architecture defines kinds 0-2 for GPR/stack/control).
func signedRegByte(id uint8, negative bool) byte {
	kind := (id >> 4) & 0x7
	index := id & 0x0F
	b := kind<<4 | index
	if negative {
		b |= 0x80
	}
	return b
}

func unpackSignedRegByte(b byte) (id uint8, negative bool) {
	negative = b&0x80 != 0
	kind := (b >> 4) & 0x7
	index := b & 0x0F
	return kind<<4 | index, negative
}

func writeImm(out []byte, v uint64, size arch.OperandSize) []byte {
	switch size {
	case arch.Byte:
		return append(out, byte(v))
	case arch.Word:
		return append(out, byte(v), byte(v>>8))
	case arch.Dword:
		return append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	default: // Qword
		return append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
			byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
	}
}

func readImm(s Stream, size arch.OperandSize) (uint64, error) {
	switch size {
	case arch.Byte:
		v, err := s.ReadU8()
		return uint64(v), err
	case arch.Word:
		v, err := s.ReadU16()
		return uint64(v), err
	case arch.Dword:
		v, err := s.ReadU32()
		return uint64(v), err
	default:
		return s.ReadU64()
	}
}

// Encoder appends the wire encoding of instructions to an internal
// buffer. It never allocates per field beyond the slice growth that
// append itself performs.
type Encoder struct {
	buf []byte
}

// Bytes returns everything encoded so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Reset discards any buffered output.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Encode appends ins's full record (opcode, descriptors, payloads) and
// returns the number of bytes written.
func (e *Encoder) Encode(ins Instruction) (int, error) {
	arity, ok := arch.Arity(ins.Opcode)
	if !ok {
		return 0, ErrInvalidOpcode
	}
	if len(ins.Operands) != arity {
		return 0, ErrArityMismatch
	}

	start := len(e.buf)
	e.buf = append(e.buf, byte(ins.Opcode))

	// Descriptors for all operands first, then all payloads, matching
	// spec.md §4.1's "after the descriptors, each operand's raw payload
	// is appended in declaration order".
	var payload []byte
	for i := range ins.Operands {
		op := &ins.Operands[i]
		desc, ext, p, err := encodeOperand(op)
		if err != nil {
			return 0, err
		}
		e.buf = append(e.buf, desc)
		if ext != nil {
			e.buf = append(e.buf, *ext)
		}
		payload = append(payload, p...)
	}
	e.buf = append(e.buf, payload...)
	return len(e.buf) - start, nil
}

func encodeOperand(op *Operand) (desc byte, ext *byte, payload []byte, err error) {
	switch op.Kind {
	case arch.KindRegister:
		return descriptorByte(arch.FormReg, op.Size, 0), nil, []byte{regByte(op.RegID)}, nil

	case arch.KindImmediate:
		d := descriptorByte(arch.FormImm, op.Size, op.Size)
		return d, nil, writeImm(nil, op.Imm, op.Size), nil

	case arch.KindMemory:
		d := descriptorByte(arch.FormMemBaseImm, op.Size, arch.Qword)
		return d, nil, writeImm(nil, op.Addr, arch.Qword), nil

	case arch.KindComplex:
		return encodeComplex(op)

	default:
		return 0, nil, nil, ErrInvalidOperandType
	}
}

func encodeComplex(op *Operand) (desc byte, ext *byte, payload []byte, err error) {
	c := op.Complex
	base := c.Base
	idx := c.Index
	off := c.Offset

	switch {
	case idx == nil && off == nil:
		// [reg] or [imm]
		if base.IsImmediate {
			d := descriptorByte(arch.FormMemBaseImm, op.Size, arch.Qword)
			return d, nil, writeImm(nil, base.Imm, arch.Qword), nil
		}
		d := descriptorByte(arch.FormMemBaseReg, op.Size, 0)
		return d, nil, []byte{regByte(base.Reg)}, nil

	case idx == nil && off != nil:
		switch {
		case !base.IsImmediate && !off.IsImmediate:
			d := descriptorByte(arch.FormMemBaseOffReg, op.Size, 0)
			p := []byte{regByte(base.Reg), signedRegByte(off.Reg, off.Negative)}
			return d, nil, p, nil
		case !base.IsImmediate && off.IsImmediate:
			d := descriptorByte(arch.FormMemBaseOffRegImm, op.Size, off.immSize())
			p := append([]byte{regByte(base.Reg)}, writeImm(nil, off.Imm, off.immSize())...)
			return d, nil, p, nil
		case base.IsImmediate && !off.IsImmediate:
			d := descriptorByte(arch.FormMemBaseOffImmReg, op.Size, base.immSize())
			p := writeImm(nil, base.Imm, base.immSize())
			p = append(p, signedRegByte(off.Reg, off.Negative))
			return d, nil, p, nil
		default: // both immediate: extended
			d := descriptorByte(arch.FormMemBaseOffImm2, op.Size, base.immSize())
			eb := extendedByte(off.immSize())
			p := writeImm(nil, base.Imm, base.immSize())
			p = writeImm(p, off.Imm, off.immSize())
			return d, &eb, p, nil
		}

	case idx != nil && off == nil:
		switch {
		case !base.IsImmediate && !idx.IsImmediate:
			d := descriptorByte(arch.FormMemBaseIdxReg, op.Size, 0)
			return d, nil, []byte{regByte(base.Reg), regByte(idx.Reg)}, nil
		case !base.IsImmediate && idx.IsImmediate:
			d := descriptorByte(arch.FormMemBaseIdxRegImm, op.Size, idx.immSize())
			p := append([]byte{regByte(base.Reg)}, writeImm(nil, idx.Imm, idx.immSize())...)
			return d, nil, p, nil
		default:
			return 0, nil, nil, ErrInvalidComplexForm
		}

	default: // idx != nil && off != nil
		switch {
		case !base.IsImmediate && !idx.IsImmediate && !off.IsImmediate:
			d := descriptorByte(arch.FormMemBaseIdxOffReg, op.Size, 0)
			p := []byte{regByte(base.Reg), regByte(idx.Reg), signedRegByte(off.Reg, off.Negative)}
			return d, nil, p, nil
		case !base.IsImmediate && !idx.IsImmediate && off.IsImmediate:
			d := descriptorByte(arch.FormMemBaseIdxOffReg2Imm, op.Size, off.immSize())
			p := []byte{regByte(base.Reg), regByte(idx.Reg)}
			p = writeImm(p, off.Imm, off.immSize())
			return d, nil, p, nil
		case !base.IsImmediate && idx.IsImmediate && !off.IsImmediate:
			d := descriptorByte(arch.FormMemBaseIdxOffRegImmReg, op.Size, idx.immSize())
			p := append([]byte{regByte(base.Reg)}, writeImm(nil, idx.Imm, idx.immSize())...)
			p = append(p, signedRegByte(off.Reg, off.Negative))
			return d, nil, p, nil
		case !base.IsImmediate && idx.IsImmediate && off.IsImmediate:
			d := descriptorByte(arch.FormMemBaseIdxOffRegImm2, op.Size, idx.immSize())
			eb := extendedByte(off.immSize())
			p := append([]byte{regByte(base.Reg)}, writeImm(nil, idx.Imm, idx.immSize())...)
			p = writeImm(p, off.Imm, off.immSize())
			return d, &eb, p, nil
		default:
			return 0, nil, nil, ErrInvalidComplexForm
		}
	}
}

// immSize returns the complex item's immediate width (caller-set via
// ComplexItem.ImmSize; the zero value is Byte, so a caller must set it
// explicitly for anything wider).
func (c ComplexItem) immSize() arch.OperandSize {
	return c.ImmSize
}

// Decoder turns a byte Stream into SimpleInstructions. It never
// allocates beyond what the caller-owned scratch operands need; callers
// decode into a SimpleInstruction they already own.
type Decoder struct{}

// Decode reads one instruction from s.
func (d *Decoder) Decode(s Stream) (SimpleInstruction, error) {
	var ins SimpleInstruction

	opByte, err := s.ReadU8()
	if err != nil {
		return ins, err
	}
	op := arch.Opcode(opByte)
	arity, ok := arch.Arity(op)
	if !ok {
		if arch.InClass(opByte) {
			return ins, ErrInvalidOpcode
		}
		return ins, ErrInvalidOpcode
	}
	ins.Opcode = op
	ins.NumOps = arity

	type descPair struct {
		form     arch.CompactForm
		size     arch.OperandSize
		imm0Size arch.OperandSize
		imm1Size arch.OperandSize
		extended bool
	}
	var descs [3]descPair

	for i := 0; i < arity; i++ {
		b, err := s.ReadU8()
		if err != nil {
			return ins, err
		}
		form, size, imm0 := parseDescriptorByte(b)
		if !form.Valid() {
			return ins, ErrInvalidOperandType
		}
		dp := descPair{form: form, size: size, imm0Size: imm0}
		if form.Extended() {
			eb, err := s.ReadU8()
			if err != nil {
				return ins, err
			}
			dp.imm1Size = parseExtendedByte(eb)
			dp.extended = true
		}
		descs[i] = dp
	}

	for i := 0; i < arity; i++ {
		operand, err := decodeOperandPayload(s, descs[i].form, descs[i].size, descs[i].imm0Size, descs[i].imm1Size)
		if err != nil {
			return ins, err
		}
		ins.Operands[i] = operand
	}
	return ins, nil
}

func decodeOperandPayload(s Stream, form arch.CompactForm, size, imm0, imm1 arch.OperandSize) (Operand, error) {
	switch form {
	case arch.FormReg:
		b, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		return Operand{Kind: arch.KindRegister, Size: size, Form: form, RegID: unpackRegByte(b)}, nil

	case arch.FormImm:
		v, err := readImm(s, size)
		if err != nil {
			return Operand{}, err
		}
		return Operand{Kind: arch.KindImmediate, Size: size, Form: form, Imm: v}, nil

	case arch.FormMemBaseImm:
		v, err := s.ReadU64() // fixed 8-byte payload regardless of imm0Size
		if err != nil {
			return Operand{}, err
		}
		return Operand{Kind: arch.KindMemory, Size: size, Form: form, Addr: v}, nil

	case arch.FormMemBaseReg:
		b, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b)}}}, nil

	case arch.FormMemBaseOffReg:
		b0, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		b1, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		offReg, neg := unpackSignedRegByte(b1)
		off := ComplexItem{Reg: offReg, Negative: neg}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b0)}, Offset: &off}}, nil

	case arch.FormMemBaseOffRegImm:
		b0, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		v, err := readImm(s, imm0)
		if err != nil {
			return Operand{}, err
		}
		off := ComplexItem{IsImmediate: true, Imm: v, ImmSize: imm0}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b0)}, Offset: &off}}, nil

	case arch.FormMemBaseOffImmReg:
		bv, err := readImm(s, imm0)
		if err != nil {
			return Operand{}, err
		}
		b1, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		offReg, neg := unpackSignedRegByte(b1)
		off := ComplexItem{Reg: offReg, Negative: neg}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{IsImmediate: true, Imm: bv, ImmSize: imm0}, Offset: &off}}, nil

	case arch.FormMemBaseOffImm2:
		bv, err := readImm(s, imm0)
		if err != nil {
			return Operand{}, err
		}
		ov, err := readImm(s, imm1)
		if err != nil {
			return Operand{}, err
		}
		off := ComplexItem{IsImmediate: true, Imm: ov, ImmSize: imm1}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{IsImmediate: true, Imm: bv, ImmSize: imm0}, Offset: &off}}, nil

	case arch.FormMemBaseIdxReg:
		b0, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		b1, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		idx := ComplexItem{Reg: unpackRegByte(b1)}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b0)}, Index: &idx}}, nil

	case arch.FormMemBaseIdxRegImm:
		b0, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		v, err := readImm(s, imm0)
		if err != nil {
			return Operand{}, err
		}
		idx := ComplexItem{IsImmediate: true, Imm: v, ImmSize: imm0}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b0)}, Index: &idx}}, nil

	case arch.FormMemBaseIdxOffReg:
		b0, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		b1, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		b2, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		idx := ComplexItem{Reg: unpackRegByte(b1)}
		offReg, neg := unpackSignedRegByte(b2)
		off := ComplexItem{Reg: offReg, Negative: neg}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b0)}, Index: &idx, Offset: &off}}, nil

	case arch.FormMemBaseIdxOffReg2Imm:
		b0, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		b1, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		v, err := readImm(s, imm0)
		if err != nil {
			return Operand{}, err
		}
		idx := ComplexItem{Reg: unpackRegByte(b1)}
		off := ComplexItem{IsImmediate: true, Imm: v, ImmSize: imm0}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b0)}, Index: &idx, Offset: &off}}, nil

	case arch.FormMemBaseIdxOffRegImmReg:
		b0, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		v, err := readImm(s, imm0)
		if err != nil {
			return Operand{}, err
		}
		b2, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		idx := ComplexItem{IsImmediate: true, Imm: v, ImmSize: imm0}
		offReg, neg := unpackSignedRegByte(b2)
		off := ComplexItem{Reg: offReg, Negative: neg}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b0)}, Index: &idx, Offset: &off}}, nil

	case arch.FormMemBaseIdxOffRegImm2:
		b0, err := s.ReadU8()
		if err != nil {
			return Operand{}, err
		}
		iv, err := readImm(s, imm0)
		if err != nil {
			return Operand{}, err
		}
		ov, err := readImm(s, imm1)
		if err != nil {
			return Operand{}, err
		}
		idx := ComplexItem{IsImmediate: true, Imm: iv, ImmSize: imm0}
		off := ComplexItem{IsImmediate: true, Imm: ov, ImmSize: imm1}
		return Operand{Kind: arch.KindComplex, Size: size, Form: form,
			Complex: Complex{Base: ComplexItem{Reg: unpackRegByte(b0)}, Index: &idx, Offset: &off}}, nil

	default:
		return Operand{}, ErrInvalidOperandType
	}
}
