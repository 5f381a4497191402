package canonical

import (
	"crypto/sha256"
	"encoding/hex"
)

// ToJSON converts x, canonicalizes it at DefaultPrecision and returns the
// compact sorted-key JSON encoding.
func ToJSON(x any) ([]byte, error) {
	v, err := Normalize(x, DefaultPrecision)
	if err != nil {
		return nil, err
	}
	return Encode(v), nil
}

// Digest returns the hex SHA-256 of the canonical JSON of x.
func Digest(x any) (string, error) {
	raw, err := ToJSON(x)
	if err != nil {
		return "", err
	}
	return SHA256Hex(raw), nil
}

// InputHash fingerprints an engine input payload.
func InputHash(x any) (string, error) { return Digest(x) }

// OutputHash fingerprints an engine output payload.
func OutputHash(x any) (string, error) { return Digest(x) }

// VersionFingerprint fingerprints a version tuple or any versioned config.
func VersionFingerprint(x any) (string, error) { return Digest(x) }

// BuildHash combines the three digests of a replay case into one.
func BuildHash(inputDigest, outputDigest, versionDigest string) string {
	return SHA256Hex([]byte(inputDigest + "|" + outputDigest + "|" + versionDigest))
}

// SHA256Hex returns the lowercase hex SHA-256 of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
