package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"houseportal/houseerr"
)

// MethodSHA256 is the only signature method this codec understands. HMAC is
// truncated to 4 bytes (8 hex chars) to fit the UDP payload budget; this is
// weaker than a full HMAC and is intentional (spec section 9, note 4).
const MethodSHA256 = "SHA-256"

const sigHexLen = 8

func computeSignature(method, hexKey, payload string) (string, error) {
	if method != MethodSHA256 {
		return "", houseerr.ErrUnsupportedCrypto
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", houseerr.ErrMalformed
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum[:4]), nil
}

// Sign produces the (method, signature) pair for payload using the first key
// in keys. Returns ("", "", nil) when keys is empty: the caller sends the
// message unsigned.
func Sign(keys KeySet, payload string) (method, sigHex string, err error) {
	if keys.Empty() {
		return "", "", nil
	}
	k := keys[0]
	sig, err := computeSignature(k.Method, k.HexKey, payload)
	if err != nil {
		return "", "", err
	}
	return k.Method, sig, nil
}

// Verify checks payload against method/sigHex using every key in keys,
// accepting if any one matches. An empty keys set accepts any (including
// absent) signature. A non-empty keys set rejects an absent signature.
func Verify(keys KeySet, payload, method, sigHex string, signed bool) error {
	if keys.Empty() {
		return nil
	}
	if !signed {
		return houseerr.ErrUnsigned
	}
	for _, k := range keys {
		if k.Method != method {
			continue
		}
		want, err := computeSignature(k.Method, k.HexKey, payload)
		if err != nil {
			continue
		}
		if len(sigHex) == sigHexLen && hmac.Equal([]byte(want), []byte(sigHex)) {
			return nil
		}
	}
	return houseerr.ErrBadSignature
}
