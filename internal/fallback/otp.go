package fallback

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
)

const otpBucket = time.Minute

// OTPGenerator derives a login code for the default admin from a shared
// secret and the current minute. It keeps no state.
//
// murmur3 is not a cryptographic hash. Only the default admin may use
// these codes and their login attempts are rate limited.
type OTPGenerator struct {
	adminEmail string
	secret     string
}

func NewOTPGenerator(adminEmail, secret string) *OTPGenerator {
	return &OTPGenerator{adminEmail: NormalizeEmail(adminEmail), secret: secret}
}

func (g *OTPGenerator) Enabled() bool {
	return g != nil && g.adminEmail != ""
}

func (g *OTPGenerator) Generate(email string, now time.Time) (string, error) {
	if !g.isAdmin(email) {
		return "", ErrNotDefaultAdmin
	}
	return g.codeFor(bucketOf(now)), nil
}

// Verify accepts the code of the current bucket or the one before it.
func (g *OTPGenerator) Verify(email, code string, now time.Time) bool {
	if !g.isAdmin(email) {
		return false
	}
	code = strings.TrimSpace(code)
	bucket := bucketOf(now)
	ok := 0
	for _, b := range []int64{bucket, bucket - 1} {
		ok |= subtle.ConstantTimeCompare([]byte(g.codeFor(b)), []byte(code))
	}
	return ok == 1
}

func (g *OTPGenerator) isAdmin(email string) bool {
	return g.Enabled() && NormalizeEmail(email) == g.adminEmail
}

func (g *OTPGenerator) codeFor(bucket int64) string {
	input := g.secret + g.adminEmail + strconv.FormatInt(bucket, 10)
	return fmt.Sprintf("%06d", murmur3.Sum32([]byte(input))%1_000_000)
}

func bucketOf(now time.Time) int64 {
	return now.UnixMilli() / otpBucket.Milliseconds()
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
