package partnership

import (
	"strings"
	"sync"

	"github.com/jaevor/go-nanoid"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeSuffixLen   = 4
	nanoidLen       = 8
	codePrefixMax   = 8
	codeFallback    = "CREATOR"
	maxCodeAttempts = 5
)

// CodeGenerator produces coupon codes such as "JANEDOE" + "7K2P".
type CodeGenerator struct {
	mu     sync.Mutex
	suffix func() string
}

// NewCodeGenerator draws nanoidLen characters per call and keeps the first
// codeSuffixLen; CustomASCII never fills ids shorter than 5.
func NewCodeGenerator() (*CodeGenerator, error) {
	gen, err := nanoid.CustomASCII(codeAlphabet, nanoidLen)
	if err != nil {
		return nil, err
	}
	return &CodeGenerator{suffix: gen}, nil
}

// Generate returns CodePrefix(name, email) followed by a random suffix.
func (g *CodeGenerator) Generate(name, email string) string {
	g.mu.Lock()
	suffix := g.suffix()[:codeSuffixLen]
	g.mu.Unlock()
	return CodePrefix(name, email) + suffix
}

// CodePrefix keeps the uppercase letters and digits of name, else of the
// email local part, else "CREATOR", truncated to 8 characters.
func CodePrefix(name, email string) string {
	if p := codeChars(name); p != "" {
		return p
	}
	local, _, _ := strings.Cut(email, "@")
	if p := codeChars(local); p != "" {
		return p
	}
	return codeFallback
}

func codeChars(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == codePrefixMax {
				break
			}
		}
	}
	return b.String()
}
