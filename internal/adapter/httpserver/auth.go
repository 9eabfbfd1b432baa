package httpserver

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params defines parameters for Argon2id password hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

var defaultArgon2Params = Argon2Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashPassword creates an Argon2id hash of the password in the encoded
// argon2id$iterations$memory$parallelism$salt$hash form.
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword verifies a password against its encoded Argon2id hash.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil || par > 255 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	actual := argon2.IDKey([]byte(password), salt, iters, mem, uint8(par), uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// BasicAuthGuard protects operator routes with HTTP Basic Auth. The
// configured password is hashed once at construction so request handling
// never touches the plaintext.
type BasicAuthGuard struct {
	usernameSum [32]byte
	passwordRef string
}

// NewBasicAuthGuard builds a guard for the given operator credentials.
func NewBasicAuthGuard(username, password string) (*BasicAuthGuard, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("operator credentials must be non-empty")
	}
	ref, err := HashPassword(password, defaultArgon2Params)
	if err != nil {
		return nil, fmt.Errorf("op=httpserver.NewBasicAuthGuard: %w", err)
	}
	return &BasicAuthGuard{usernameSum: sha256.Sum256([]byte(username)), passwordRef: ref}, nil
}

// Middleware rejects requests without valid operator credentials.
func (g *BasicAuthGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !g.valid(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="operator"`)
			writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{
				Code:    "UNAUTHORIZED",
				Message: "operator credentials required",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *BasicAuthGuard) valid(user, pass string) bool {
	sum := sha256.Sum256([]byte(user))
	userOK := subtle.ConstantTimeCompare(sum[:], g.usernameSum[:]) == 1
	passOK := VerifyPassword(pass, g.passwordRef)
	return userOK && passOK
}
