package hart

// Instruction field extraction for the RV32I base encoding. Each
// immediate format sign-extends explicitly from the bit the
// specification calls out, rather than relying on Go's signed shift
// behaviour implicitly — the intent is documented at each call site the
// way cpu_ie32.go documents every field offset it reads.

func opcode(instr uint32) uint32 { return instr & 0x7F }
func rd(instr uint32) uint8      { return uint8((instr >> 7) & 0x1F) }
func funct3(instr uint32) uint32 { return (instr >> 12) & 0x7 }
func rs1(instr uint32) uint8     { return uint8((instr >> 15) & 0x1F) }
func rs2(instr uint32) uint8     { return uint8((instr >> 20) & 0x1F) }
func funct7(instr uint32) uint32 { return (instr >> 25) & 0x7F }

// bit30 is the single bit that, combined with opcode and funct3,
// distinguishes ADD/SUB, SRL/SRA and SRLI/SRAI.
func bit30(instr uint32) uint32 { return (instr >> 30) & 0x1 }

// immI decodes the I-type immediate (loads, OP-IMM, JALR), sign
// extending from bit 11.
func immI(instr uint32) int32 {
	raw := instr >> 20
	return signExtend(raw, 12)
}

// immU decodes the U-type immediate (LUI, AUIPC): bits 31:12 placed in
// the result's bits 31:12, low 12 bits zero. No sign extension is
// needed beyond the natural uint32->int32 reinterpretation.
func immU(instr uint32) int32 {
	return int32(instr & 0xFFFFF000)
}

// immS decodes the S-type immediate (stores), sign extending from bit
// 11.
func immS(instr uint32) int32 {
	raw := ((instr >> 25) << 5) | ((instr >> 7) & 0x1F)
	return signExtend(raw, 12)
}

// immB decodes the B-type immediate (branches), sign extending from
// bit 12. Bit 0 is always zero, so offsets are multiples of 2; the
// core does not check that a taken branch target is 4-byte aligned.
func immB(instr uint32) int32 {
	bit11 := (instr >> 7) & 0x1
	bits4_1 := (instr >> 8) & 0xF
	bits10_5 := (instr >> 25) & 0x3F
	bit12 := (instr >> 31) & 0x1
	raw := (bit12 << 12) | (bit11 << 11) | (bits10_5 << 5) | (bits4_1 << 1)
	return signExtend(raw, 13)
}

// immJ decodes the J-type immediate (JAL), sign extending from bit 20.
func immJ(instr uint32) int32 {
	bit19_12 := (instr >> 12) & 0xFF
	bit11 := (instr >> 20) & 0x1
	bits10_1 := (instr >> 21) & 0x3FF
	bit20 := (instr >> 31) & 0x1
	raw := (bit20 << 20) | (bit19_12 << 12) | (bit11 << 11) | (bits10_1 << 1)
	return signExtend(raw, 21)
}

// signExtend treats the low `bits` bits of raw as a two's-complement
// value and sign-extends it to a full int32.
func signExtend(raw uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(raw<<shift) >> shift
}

// shamt extracts a 5-bit shift amount from the low bits of an I-type
// immediate. The specification calls for masking to 5 bits rather than
// rejecting out-of-range encodings, so that e.g. `SLLI rd, rs1, 33` is
// equivalent to `SLLI rd, rs1, 1`.
func shamt(instr uint32) uint32 {
	return (instr >> 20) & 0x1F
}

// composeIndex builds the opcode-table index described in the
// specification: the primary 7-bit opcode plus the funct3 and bit-30
// bits relevant to further decoding. Instructions whose meaning doesn't
// depend on funct3/bit30 (LUI, AUIPC, JAL) are registered at every slot
// sharing their opcode, i.e. "smudged" across the table, so dispatch is
// always a single indexed call with no secondary switch.
func composeIndex(instr uint32) uint32 {
	return opcode(instr) | (funct3(instr) << 7) | (bit30(instr) << 10)
}

const opcodeTableSize = 1 << 11 // 7 (opcode) + 3 (funct3) + 1 (bit30)
