// Package vic interprets the VIC-II register block and sprite data of a C64.
//
// The video chip occupies 47 registers at $D000-$D02E. Raw dumps of that
// block decode into a structured State: graphics mode, memory layout, raster
// position, colors, and the full per-sprite configuration including the
// X-coordinate high bits collected in $D010.
package vic

import "fmt"

// RegisterCount is the size of the VIC-II register block.
const RegisterCount = 47

// BaseAddress is where the register block sits in the I/O area.
const BaseAddress = 0xd000

// Mode is a display mode derived from the control registers.
type Mode string

const (
	ModeText           Mode = "text"
	ModeMulticolorText Mode = "multicolor text"
	ModeBitmap         Mode = "bitmap"
	ModeMulticolorBMap Mode = "multicolor bitmap"
	ModeExtendedText   Mode = "extended background text"
	ModeInvalid        Mode = "invalid"
)

// Sprite is the decoded hardware state of one of the eight sprites.
type Sprite struct {
	Index      int    `json:"index"`
	X          uint16 `json:"x"`
	Y          uint8  `json:"y"`
	Enabled    bool   `json:"enabled"`
	ExpandX    bool   `json:"expandX"`
	ExpandY    bool   `json:"expandY"`
	Multicolor bool   `json:"multicolor"`
	BehindText bool   `json:"behindText"`
	Color      uint8  `json:"color"`
	ColorName  string `json:"colorName"`
}

// State is the decoded VIC-II configuration.
type State struct {
	Mode         Mode   `json:"mode"`
	ScreenOn     bool   `json:"screenOn"`
	RasterLine   uint16 `json:"rasterLine"`
	Rows25       bool   `json:"rows25"`
	Cols40       bool   `json:"cols40"`
	ScrollX      uint8  `json:"scrollX"`
	ScrollY      uint8  `json:"scrollY"`
	ScreenBase   uint16 `json:"screenBase"`
	CharsetBase  uint16 `json:"charsetBase"`
	BitmapBase   uint16 `json:"bitmapBase"`
	BorderColor  uint8  `json:"borderColor"`
	Background   [4]uint8
	SpriteShared [2]uint8
	IRQStatus    uint8 `json:"irqStatus"`
	IRQEnabled   uint8 `json:"irqEnabled"`
	LightPenX    uint8 `json:"lightPenX"`
	LightPenY    uint8 `json:"lightPenY"`

	Sprites [8]Sprite `json:"sprites"`

	// Collision latches; reading $D01E/$D01F on hardware clears them, so
	// these reflect the state at dump time.
	SpriteSpriteCollision uint8 `json:"spriteSpriteCollision"`
	SpriteDataCollision   uint8 `json:"spriteDataCollision"`
}

var colorNames = [16]string{
	"black", "white", "red", "cyan",
	"purple", "green", "blue", "yellow",
	"orange", "brown", "light red", "dark grey",
	"grey", "light green", "light blue", "light grey",
}

// ColorName returns the conventional name of a C64 palette index.
func ColorName(index uint8) string {
	return colorNames[index&0x0f]
}

// DecodeState interprets a dump of the register block. regs must hold at
// least RegisterCount bytes starting at $D000.
func DecodeState(regs []byte) (*State, error) {
	if len(regs) < RegisterCount {
		return nil, fmt.Errorf("register dump too short: %d bytes, need %d", len(regs), RegisterCount)
	}

	ctrl1 := regs[0x11]
	ctrl2 := regs[0x16]
	mem := regs[0x18]

	s := &State{
		ScreenOn:    ctrl1&0x10 != 0,
		RasterLine:  uint16(regs[0x12]) | uint16(ctrl1&0x80)<<1,
		Rows25:      ctrl1&0x08 != 0,
		Cols40:      ctrl2&0x08 != 0,
		ScrollY:     ctrl1 & 0x07,
		ScrollX:     ctrl2 & 0x07,
		ScreenBase:  uint16(mem>>4) * 0x0400,
		CharsetBase: uint16(mem>>1&0x07) * 0x0800,
		BorderColor: regs[0x20] & 0x0f,
		IRQStatus:   regs[0x19],
		IRQEnabled:  regs[0x1a] & 0x0f,
		LightPenX:   regs[0x13],
		LightPenY:   regs[0x14],

		SpriteSpriteCollision: regs[0x1e],
		SpriteDataCollision:   regs[0x1f],
	}

	// In bitmap mode only bit 3 of $D018 matters for the bitmap base.
	if mem&0x08 != 0 {
		s.BitmapBase = 0x2000
	}

	for i := range s.Background {
		s.Background[i] = regs[0x21+i] & 0x0f
	}
	s.SpriteShared[0] = regs[0x25] & 0x0f
	s.SpriteShared[1] = regs[0x26] & 0x0f

	bmm := ctrl1&0x20 != 0
	ecm := ctrl1&0x40 != 0
	mcm := ctrl2&0x10 != 0
	switch {
	case ecm && (bmm || mcm):
		s.Mode = ModeInvalid
	case ecm:
		s.Mode = ModeExtendedText
	case bmm && mcm:
		s.Mode = ModeMulticolorBMap
	case bmm:
		s.Mode = ModeBitmap
	case mcm:
		s.Mode = ModeMulticolorText
	default:
		s.Mode = ModeText
	}

	xmsb := regs[0x10]
	for i := 0; i < 8; i++ {
		bit := byte(1) << i
		color := regs[0x27+i] & 0x0f
		s.Sprites[i] = Sprite{
			Index:      i,
			X:          uint16(regs[2*i]) | uint16(xmsb&bit)>>i<<8,
			Y:          regs[2*i+1],
			Enabled:    regs[0x15]&bit != 0,
			ExpandY:    regs[0x17]&bit != 0,
			BehindText: regs[0x1b]&bit != 0,
			Multicolor: regs[0x1c]&bit != 0,
			ExpandX:    regs[0x1d]&bit != 0,
			Color:      color,
			ColorName:  ColorName(color),
		}
	}
	return s, nil
}

// SpritePointerAddr returns the address of sprite n's data pointer for a
// given screen base. The pointer byte, times 64, is the sprite data address
// within the VIC bank.
func SpritePointerAddr(screenBase uint16, n int) uint16 {
	return screenBase + 0x03f8 + uint16(n&7)
}
