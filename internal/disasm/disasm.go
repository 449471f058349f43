// Package disasm disassembles 6502 machine code.
package disasm

import "fmt"

// addressing modes
type mode uint8

const (
	imp mode = iota // implied
	acc             // accumulator
	imm             // #$nn
	zp              // $nn
	zpx             // $nn,X
	zpy             // $nn,Y
	abs             // $nnnn
	abx             // $nnnn,X
	aby             // $nnnn,Y
	ind             // ($nnnn)
	izx             // ($nn,X)
	izy             // ($nn),Y
	rel             // branch target
)

var modeLen = [...]int{
	imp: 1, acc: 1, imm: 2, zp: 2, zpx: 2, zpy: 2,
	abs: 3, abx: 3, aby: 3, ind: 3, izx: 2, izy: 2, rel: 2,
}

type opcode struct {
	mnemonic string
	mode     mode
}

// The full documented 6502 opcode map. Undocumented opcodes stay zero-valued
// and render as ??? with length 1, so a disassembly walk through data never
// desynchronizes by more than a byte.
var opcodes = [256]opcode{
	0x00: {"BRK", imp}, 0x01: {"ORA", izx}, 0x05: {"ORA", zp}, 0x06: {"ASL", zp},
	0x08: {"PHP", imp}, 0x09: {"ORA", imm}, 0x0a: {"ASL", acc}, 0x0d: {"ORA", abs},
	0x0e: {"ASL", abs},
	0x10: {"BPL", rel}, 0x11: {"ORA", izy}, 0x15: {"ORA", zpx}, 0x16: {"ASL", zpx},
	0x18: {"CLC", imp}, 0x19: {"ORA", aby}, 0x1d: {"ORA", abx}, 0x1e: {"ASL", abx},
	0x20: {"JSR", abs}, 0x21: {"AND", izx}, 0x24: {"BIT", zp}, 0x25: {"AND", zp},
	0x26: {"ROL", zp}, 0x28: {"PLP", imp}, 0x29: {"AND", imm}, 0x2a: {"ROL", acc},
	0x2c: {"BIT", abs}, 0x2d: {"AND", abs}, 0x2e: {"ROL", abs},
	0x30: {"BMI", rel}, 0x31: {"AND", izy}, 0x35: {"AND", zpx}, 0x36: {"ROL", zpx},
	0x38: {"SEC", imp}, 0x39: {"AND", aby}, 0x3d: {"AND", abx}, 0x3e: {"ROL", abx},
	0x40: {"RTI", imp}, 0x41: {"EOR", izx}, 0x45: {"EOR", zp}, 0x46: {"LSR", zp},
	0x48: {"PHA", imp}, 0x49: {"EOR", imm}, 0x4a: {"LSR", acc}, 0x4c: {"JMP", abs},
	0x4d: {"EOR", abs}, 0x4e: {"LSR", abs},
	0x50: {"BVC", rel}, 0x51: {"EOR", izy}, 0x55: {"EOR", zpx}, 0x56: {"LSR", zpx},
	0x58: {"CLI", imp}, 0x59: {"EOR", aby}, 0x5d: {"EOR", abx}, 0x5e: {"LSR", abx},
	0x60: {"RTS", imp}, 0x61: {"ADC", izx}, 0x65: {"ADC", zp}, 0x66: {"ROR", zp},
	0x68: {"PLA", imp}, 0x69: {"ADC", imm}, 0x6a: {"ROR", acc}, 0x6c: {"JMP", ind},
	0x6d: {"ADC", abs}, 0x6e: {"ROR", abs},
	0x70: {"BVS", rel}, 0x71: {"ADC", izy}, 0x75: {"ADC", zpx}, 0x76: {"ROR", zpx},
	0x78: {"SEI", imp}, 0x79: {"ADC", aby}, 0x7d: {"ADC", abx}, 0x7e: {"ROR", abx},
	0x81: {"STA", izx}, 0x84: {"STY", zp}, 0x85: {"STA", zp}, 0x86: {"STX", zp},
	0x88: {"DEY", imp}, 0x8a: {"TXA", imp}, 0x8c: {"STY", abs}, 0x8d: {"STA", abs},
	0x8e: {"STX", abs},
	0x90: {"BCC", rel}, 0x91: {"STA", izy}, 0x94: {"STY", zpx}, 0x95: {"STA", zpx},
	0x96: {"STX", zpy}, 0x98: {"TYA", imp}, 0x99: {"STA", aby}, 0x9a: {"TXS", imp},
	0x9d: {"STA", abx},
	0xa0: {"LDY", imm}, 0xa1: {"LDA", izx}, 0xa2: {"LDX", imm}, 0xa4: {"LDY", zp},
	0xa5: {"LDA", zp}, 0xa6: {"LDX", zp}, 0xa8: {"TAY", imp}, 0xa9: {"LDA", imm},
	0xaa: {"TAX", imp}, 0xac: {"LDY", abs}, 0xad: {"LDA", abs}, 0xae: {"LDX", abs},
	0xb0: {"BCS", rel}, 0xb1: {"LDA", izy}, 0xb4: {"LDY", zpx}, 0xb5: {"LDA", zpx},
	0xb6: {"LDX", zpy}, 0xb8: {"CLV", imp}, 0xb9: {"LDA", aby}, 0xba: {"TSX", imp},
	0xbc: {"LDY", abx}, 0xbd: {"LDA", abx}, 0xbe: {"LDX", aby},
	0xc0: {"CPY", imm}, 0xc1: {"CMP", izx}, 0xc4: {"CPY", zp}, 0xc5: {"CMP", zp},
	0xc6: {"DEC", zp}, 0xc8: {"INY", imp}, 0xc9: {"CMP", imm}, 0xca: {"DEX", imp},
	0xcc: {"CPY", abs}, 0xcd: {"CMP", abs}, 0xce: {"DEC", abs},
	0xd0: {"BNE", rel}, 0xd1: {"CMP", izy}, 0xd5: {"CMP", zpx}, 0xd6: {"DEC", zpx},
	0xd8: {"CLD", imp}, 0xd9: {"CMP", aby}, 0xdd: {"CMP", abx}, 0xde: {"DEC", abx},
	0xe0: {"CPX", imm}, 0xe1: {"SBC", izx}, 0xe4: {"CPX", zp}, 0xe5: {"SBC", zp},
	0xe6: {"INC", zp}, 0xe8: {"INX", imp}, 0xe9: {"SBC", imm}, 0xea: {"NOP", imp},
	0xec: {"CPX", abs}, 0xed: {"SBC", abs}, 0xee: {"INC", abs},
	0xf0: {"BEQ", rel}, 0xf1: {"SBC", izy}, 0xf5: {"SBC", zpx}, 0xf6: {"INC", zpx},
	0xf8: {"SED", imp}, 0xf9: {"SBC", aby}, 0xfd: {"SBC", abx}, 0xfe: {"INC", abx},
}

// Instruction is one decoded instruction.
type Instruction struct {
	Addr     uint16 `json:"addr"`
	Bytes    []byte `json:"-"`
	Mnemonic string `json:"mnemonic"`
	Operand  string `json:"operand,omitempty"`
	Text     string `json:"text"`
	Illegal  bool   `json:"illegal,omitempty"`
}

func operandText(m mode, operands []byte, next uint16) string {
	switch m {
	case imp:
		return ""
	case acc:
		return "A"
	case imm:
		return fmt.Sprintf("#$%02X", operands[0])
	case zp:
		return fmt.Sprintf("$%02X", operands[0])
	case zpx:
		return fmt.Sprintf("$%02X,X", operands[0])
	case zpy:
		return fmt.Sprintf("$%02X,Y", operands[0])
	case abs:
		return fmt.Sprintf("$%04X", word(operands))
	case abx:
		return fmt.Sprintf("$%04X,X", word(operands))
	case aby:
		return fmt.Sprintf("$%04X,Y", word(operands))
	case ind:
		return fmt.Sprintf("($%04X)", word(operands))
	case izx:
		return fmt.Sprintf("($%02X,X)", operands[0])
	case izy:
		return fmt.Sprintf("($%02X),Y", operands[0])
	case rel:
		return fmt.Sprintf("$%04X", next+uint16(int16(int8(operands[0]))))
	}
	return ""
}

func word(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// Disassemble decodes the given bytes as instructions starting at origin.
// A truncated final instruction or an undocumented opcode decodes as a
// single-byte ??? so the walk always makes progress.
func Disassemble(data []byte, origin uint16) []Instruction {
	out := make([]Instruction, 0, len(data)/2)
	pc := 0
	for pc < len(data) {
		op := opcodes[data[pc]]
		addr := origin + uint16(pc)

		if op.mnemonic == "" || pc+modeLen[op.mode] > len(data) {
			ins := Instruction{
				Addr:     addr,
				Bytes:    data[pc : pc+1],
				Mnemonic: "???",
				Illegal:  true,
			}
			ins.Text = fmt.Sprintf("$%04X  %02X        ???", addr, data[pc])
			out = append(out, ins)
			pc++
			continue
		}

		n := modeLen[op.mode]
		raw := data[pc : pc+n]
		ins := Instruction{
			Addr:     addr,
			Bytes:    raw,
			Mnemonic: op.mnemonic,
			Operand:  operandText(op.mode, raw[1:], addr+uint16(n)),
		}
		hex := ""
		for _, b := range raw {
			hex += fmt.Sprintf("%02X ", b)
		}
		ins.Text = fmt.Sprintf("$%04X  %-9s %s", addr, hex, ins.Mnemonic)
		if ins.Operand != "" {
			ins.Text += " " + ins.Operand
		}
		out = append(out, ins)
		pc += n
	}
	return out
}
