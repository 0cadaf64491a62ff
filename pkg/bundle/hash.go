package bundle

import (
	"encoding/hex"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// ParseVerifyBundleFlag parses the `--verify-bundle <alg:hex>` CLI value
// (§Supplemented features 3) into raw hash bytes. Only "sha512-256" is
// accepted, matching the bundle format's sole hash algorithm; the
// digest.Digest string type from opencontainers/go-digest is reused as the
// canonical "alg:hex" representation, even though sha512-256 is not one of
// that package's built-in registered algorithms, so validation of the hex
// payload is done here rather than via digest.Digest.Validate.
func ParseVerifyBundleFlag(s string) ([]byte, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nil, ctrlerr.New(ctrlerr.ConfigInvalid, "--verify-bundle must be alg:hex")
	}
	alg, hexDigest := parts[0], parts[1]
	if alg != HashAlgoSHA512_256.String() {
		return nil, ctrlerr.New(ctrlerr.ConfigInvalid, "unsupported --verify-bundle algorithm "+alg)
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.ConfigInvalid, "--verify-bundle hex digest", err)
	}
	if len(raw) != HashAlgoSHA512_256.Size() {
		return nil, ctrlerr.New(ctrlerr.ConfigInvalid, "--verify-bundle digest has the wrong length")
	}
	return raw, nil
}

// FormatDigest renders raw hash bytes as an "alg:hex" digest string, using
// digest.NewDigestFromEncoded's encoding so bundle digests print the same
// way OCI content digests do elsewhere in the ecosystem.
func FormatDigest(algo HashAlgo, raw []byte) string {
	return digest.NewDigestFromEncoded(digest.Algorithm(algo.String()), hex.EncodeToString(raw)).String()
}
