// Package crypto generates random passwords and passphrases for new entries.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/vault-cli/lockbox/internal/protect"
)

// Charset defines the character set to use for password generation
type Charset string

const (
	// CharsetAlpha uses only alphabetic characters (a-z, A-Z)
	CharsetAlpha Charset = "alpha"
	// CharsetAlnum uses alphanumeric characters (a-z, A-Z, 0-9)
	CharsetAlnum Charset = "alnum"
	// CharsetAlnumSpecial adds punctuation to CharsetAlnum.
	CharsetAlnumSpecial Charset = "alnumspecial"
	// CharsetDigits is for PINs.
	CharsetDigits Charset = "digits"
)

var (
	ErrInvalidLength  = errors.New("length must be positive")
	ErrUnknownCharset = errors.New("unknown charset")
	ErrInvalidWords   = errors.New("word count must be positive")
)

var (
	charsetLookup = map[Charset]string{
		CharsetAlpha:        "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ",
		CharsetAlnum:        "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
		CharsetAlnumSpecial: "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+[]{}<>?,.:;/'\"|\\~",
		CharsetDigits:       "0123456789",
	}
	randSource io.Reader = rand.Reader
	randMux    sync.RWMutex
)

var dicewareAdjectives = []string{
	"able", "amber", "brave", "calm", "clever", "crisp", "daring", "eager", "early", "fancy", "gentle", "happy", "ideal", "jolly", "keen", "lively", "magic", "noble", "oaken", "pearl", "quick", "ready", "solar", "tidy", "urban", "vivid", "warm", "young", "zesty", "bright", "candid", "dazzle", "elegant", "friendly", "glossy", "humble",
}

var dicewareNouns = []string{
	"anchor", "beacon", "canyon", "dream", "ember", "forest", "galaxy", "harbor", "island", "jungle", "kingdom", "lantern", "meadow", "nebula", "ocean", "prairie", "quartz", "river", "summit", "temple", "unicorn", "valley", "willow", "xenon", "yonder", "zephyr", "apple", "bridge", "comet", "dragon", "feather", "garden", "horizon", "idol", "jade", "keeper", "legend",
}

var (
	dicewareList []string
	dicewareOnce sync.Once
)

// ParseCharset accepts the names used by CLI flags. "alnumsym" and
// "special" are kept as aliases of CharsetAlnumSpecial.
func ParseCharset(s string) (Charset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alpha":
		return CharsetAlpha, nil
	case "alnum":
		return CharsetAlnum, nil
	case "", "alnumspecial", "alnumsym", "special":
		return CharsetAlnumSpecial, nil
	case "digits", "pin":
		return CharsetDigits, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCharset, s)
	}
}

// SetRandomSource sets the random number generator source.
// If r is nil, it resets to the default crypto/rand.Reader.
func SetRandomSource(r io.Reader) {
	randMux.Lock()
	if r == nil {
		randSource = rand.Reader
	} else {
		randSource = r
	}
	randMux.Unlock()
}

func source() io.Reader {
	randMux.RLock()
	defer randMux.RUnlock()
	return randSource
}

// GeneratePassword returns a random password of length characters from charset.
func GeneratePassword(length int, charset Charset) (string, error) {
	v, err := GenerateProtected(length, charset)
	if err != nil {
		return "", err
	}
	return v.RevealText(), nil
}

// GenerateProtected is GeneratePassword without a plaintext string: the
// password is assembled in a scratch buffer that is wiped once it has been
// sealed into the returned value.
func GenerateProtected(length int, charset Charset) (*protect.Value, error) {
	if length <= 0 {
		return nil, ErrInvalidLength
	}
	chars, ok := charsetLookup[charset]
	if !ok {
		return nil, ErrUnknownCharset
	}

	src := source()
	buf := make([]byte, 0, length)
	for i := 0; i < length; i++ {
		idx, err := randomIndex(src, len(chars))
		if err != nil {
			memguard.WipeBytes(buf)
			return nil, err
		}
		buf = append(buf, chars[idx])
	}
	return protect.Wrap(buf), nil
}

// GenerateDiceware returns wordCount random words.
func GenerateDiceware(wordCount int) ([]string, error) {
	if wordCount <= 0 {
		return nil, ErrInvalidWords
	}

	words := dicewareWords()
	src := source()

	result := make([]string, wordCount)
	for i := 0; i < wordCount; i++ {
		idx, err := randomIndex(src, len(words))
		if err != nil {
			return nil, err
		}
		result[i] = words[idx]
	}

	return result, nil
}

// EntropyBits estimates the strength of a generated password.
func EntropyBits(length int, charset Charset) float64 {
	chars, ok := charsetLookup[charset]
	if !ok || length <= 0 {
		return 0
	}
	return float64(length) * math.Log2(float64(len(chars)))
}

// DicewareEntropyBits estimates the strength of a generated passphrase.
func DicewareEntropyBits(wordCount int) float64 {
	if wordCount <= 0 {
		return 0
	}
	return float64(wordCount) * math.Log2(float64(len(dicewareWords())))
}

func dicewareWords() []string {
	dicewareOnce.Do(func() {
		pairs := len(dicewareAdjectives) * len(dicewareNouns)
		merged := make([]string, 0, pairs)
		for _, adj := range dicewareAdjectives {
			for _, noun := range dicewareNouns {
				merged = append(merged, adj+"-"+noun)
			}
		}
		dicewareList = merged
	})
	return dicewareList
}

// randomIndex draws a uniform index in [0, max) by rejection sampling.
func randomIndex(r io.Reader, max int) (int, error) {
	if max <= 0 {
		return 0, ErrInvalidLength
	}

	if max <= 256 {
		var buf [1]byte
		usable := 256 - (256 % max)
		for {
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return 0, err
			}
			if int(buf[0]) < usable {
				return int(buf[0]) % max, nil
			}
		}
	}

	if max <= 65536 {
		var buf [2]byte
		usable := 65536 - (65536 % max)
		for {
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return 0, err
			}
			val := int(binary.BigEndian.Uint16(buf[:]))
			if val < usable {
				return val % max, nil
			}
		}
	}

	var buf [4]byte
	const maxUint32 = ^uint32(0)
	limit := maxUint32 - (maxUint32 % uint32(max))
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		val := binary.BigEndian.Uint32(buf[:])
		if val < limit {
			return int(val % uint32(max)), nil
		}
	}
}
