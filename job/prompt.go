package job

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/types"
)

const (
	// ModeVoxel is the only supported generation mode.
	ModeVoxel = "voxel"
	// MaxFieldLength caps every free-text prompt field, in runes.
	MaxFieldLength = 1000
	// DefaultSubject applies when a prompt names nothing.
	DefaultSubject = "object"
	// MaxResolution bounds the requested target resolution.
	MaxResolution = 16384
)

// Prompt is a generation request.
type Prompt struct {
	Subject    string `json:"subject"`
	Style      string `json:"style"`
	Pose       string `json:"pose"`
	Seed       int64  `json:"seed"`
	Resolution int    `json:"resolution"`
	Mode       string `json:"mode"`
}

// Sanitize strips control characters other than newline and tab, trims
// surrounding space and caps the length.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxFieldLength {
		s = string([]rune(s)[:MaxFieldLength])
	}
	return s
}

// Normalize sanitizes the free-text fields and applies defaults.
func (p *Prompt) Normalize() error {
	p.Subject = Sanitize(p.Subject)
	p.Style = Sanitize(p.Style)
	p.Pose = Sanitize(p.Pose)
	p.Mode = strings.ToLower(strings.TrimSpace(p.Mode))

	if p.Subject == "" {
		p.Subject = DefaultSubject
	}
	if p.Mode == "" {
		p.Mode = ModeVoxel
	}
	if p.Mode != ModeVoxel {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unsupported mode %q", p.Mode))
	}
	if p.Resolution < 0 || p.Resolution > MaxResolution {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("resolution must be between 0 and %d", MaxResolution))
	}
	if p.Resolution == 0 {
		p.Resolution = asset.DefaultResolution
	}
	return nil
}
