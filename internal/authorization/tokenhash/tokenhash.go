package tokenhash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	encodedPrefix = "$argon2id$"
)

// Hash returns the Argon2id encoding of an admin API token, suitable for
// ADMIN_API_TOKEN or AUDITOR_API_TOKEN.
func Hash(token string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

// IsEncoded reports whether configured looks like an Argon2id encoding.
func IsEncoded(configured string) bool {
	return strings.HasPrefix(configured, encodedPrefix)
}

// Match compares a presented token with a configured one, which is either
// the plain token or its Argon2id encoding.
func Match(presented, configured string) bool {
	if presented == "" || configured == "" {
		return false
	}
	if IsEncoded(configured) {
		return Verify(presented, configured)
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// Verify checks a token against an encoded Argon2id hash.
func Verify(token, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	memory, timeCost, threads, ok := parseParams(parts[3])
	if !ok {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return false
	}

	check := argon2.IDKey([]byte(token), salt, timeCost, memory, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}

func parseParams(raw string) (memory uint32, timeCost uint32, threads uint8, ok bool) {
	params := strings.Split(raw, ",")
	if len(params) != 3 {
		return 0, 0, 0, false
	}

	m, ok := strings.CutPrefix(params[0], "m=")
	if !ok {
		return 0, 0, 0, false
	}
	t, ok := strings.CutPrefix(params[1], "t=")
	if !ok {
		return 0, 0, 0, false
	}
	p, ok := strings.CutPrefix(params[2], "p=")
	if !ok {
		return 0, 0, 0, false
	}

	m64, err := strconv.ParseUint(m, 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	t64, err := strconv.ParseUint(t, 10, 32)
	if err != nil || t64 == 0 {
		return 0, 0, 0, false
	}
	p64, err := strconv.ParseUint(p, 10, 8)
	if err != nil || p64 == 0 {
		return 0, 0, 0, false
	}
	return uint32(m64), uint32(t64), uint8(p64), true
}
