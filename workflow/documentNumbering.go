package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/bilan_backend/models"
)

const (
	maxNumberAttempts = 5
	numberSuffixSpace = 10000
)

// DocumentNumber renders {PREFIX}-{ORG}-{YEAR}-{SUFFIX} with a zero-padded 4-digit suffix.
func DocumentNumber(kind models.DocumentKind, organizationID string, year int, suffix int) string {
	org := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(organizationID), " ", ""))
	return fmt.Sprintf("%s-%s-%d-%04d", kind.NumberPrefix(), org, year, suffix%numberSuffixSpace)
}

// randomSuffix is safe for concurrent use.
func randomSuffix() func() int {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return r.Intn(numberSuffixSpace)
	}
}

// CertificateIntegrityHash is a SHA-256 checksum over the certificate identity.
// It detects tampering with the stored record; it is not a legal electronic signature.
func CertificateIntegrityHash(documentNumber, caseID, beneficiaryID string, issuedAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%s",
		documentNumber, caseID, beneficiaryID, issuedAt.UTC().Format(time.RFC3339Nano))))
	return hex.EncodeToString(sum[:])
}
