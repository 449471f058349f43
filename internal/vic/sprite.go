package vic

import "fmt"

// Sprite data geometry: 21 rows of 3 bytes, 24 pixels wide in hires, 12
// double-width pixel pairs in multicolor.
const (
	SpriteDataLen = 63
	SpriteWidth   = 24
	SpriteHeight  = 21
)

// RenderSprite draws 63 bytes of sprite data as text rows. Hires sprites use
// '#' for set pixels and '.' for transparent. Multicolor sprites render each
// two-bit pair as two characters: '.' transparent, '1' shared color 1, 'S'
// sprite color, '2' shared color 2.
func RenderSprite(data []byte, multicolor bool) ([]string, error) {
	if len(data) < SpriteDataLen {
		return nil, fmt.Errorf("sprite data too short: %d bytes, need %d", len(data), SpriteDataLen)
	}

	rows := make([]string, SpriteHeight)
	for row := 0; row < SpriteHeight; row++ {
		line := make([]byte, 0, SpriteWidth)
		bits := uint32(data[row*3])<<16 | uint32(data[row*3+1])<<8 | uint32(data[row*3+2])
		if multicolor {
			for pair := 0; pair < SpriteWidth/2; pair++ {
				shift := uint(22 - pair*2)
				var ch byte
				switch bits >> shift & 0x03 {
				case 0:
					ch = '.'
				case 1:
					ch = '1'
				case 2:
					ch = 'S'
				case 3:
					ch = '2'
				}
				line = append(line, ch, ch)
			}
		} else {
			for px := 0; px < SpriteWidth; px++ {
				if bits>>(uint(23-px))&1 != 0 {
					line = append(line, '#')
				} else {
					line = append(line, '.')
				}
			}
		}
		rows[row] = string(line)
	}
	return rows, nil
}
