package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Algorithm = "argon2id"

// Argon2Config はargon2idのコストパラメータ。
type Argon2Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config は本番用の既定パラメータを返す（m=19MiB, t=2, p=1）。
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      19 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher はPHC形式のargon2idハッシュを生成・検証する。
type Argon2Hasher struct {
	config Argon2Config
}

// NewArgon2Hasher はArgon2Hasherを生成する。
func NewArgon2Hasher(config Argon2Config) (*Argon2Hasher, error) {
	if config.Memory < 8*1024 {
		return nil, errors.New("argon2 memory must be >= 8192 KiB")
	}
	if config.Time < 1 || config.Parallelism < 1 {
		return nil, errors.New("argon2 time and parallelism must be >= 1")
	}
	if config.SaltLength < 16 || config.KeyLength < 16 {
		return nil, errors.New("argon2 salt and key length must be >= 16")
	}
	return &Argon2Hasher{config: config}, nil
}

// Hash はパスワードをハッシュ化し、
// $argon2id$v=19$m=...,t=...,p=...$<salt>$<hash> 形式の文字列を返す。
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Algorithm,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify はパスワードがハッシュと一致するかを定数時間で比較する。
// ハッシュ文字列が壊れている場合はエラーを返す。
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(computed, p.hash) == 1, nil
}

type phcParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parsePHC(encoded string) (*phcParams, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != argon2Algorithm {
		return nil, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("unsupported argon2 version: %s", parts[2])
	}

	var p phcParams
	var parallelism uint64
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.New("invalid parameter entry")
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid parameter %s", k)
		}
		switch k {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			parallelism = n
		default:
			return nil, fmt.Errorf("unsupported parameter %s", k)
		}
	}
	if p.memory == 0 || p.time == 0 || parallelism == 0 || parallelism > 255 {
		return nil, errors.New("missing parameters")
	}
	p.parallelism = uint8(parallelism)

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.hash) == 0 {
		return nil, errors.New("invalid hash encoding")
	}
	return &p, nil
}
