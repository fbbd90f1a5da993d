package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"
)

const (
	releaseFetchTimeout = 30 * time.Second
	maxReleaseBytes     = 4 * 1024 * 1024
)

// ReleaseVerifier checks that a mirror serves an InRelease file signed by a
// trusted key before the mirror is activated.
type ReleaseVerifier struct {
	client *http.Client
	pgp    *crypto.PGPHandle
	key    *crypto.Key
}

// NewReleaseVerifier loads the public key at keyringPath. Both armored and
// binary keys are accepted.
func NewReleaseVerifier(keyringPath string, client *http.Client) (*ReleaseVerifier, error) {
	data, err := os.ReadFile(keyringPath) // #nosec G304 - path from config
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read PGP keyring from: %s", keyringPath)
	}
	key, err := parseKey(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse PGP keyring from: %s", keyringPath)
	}
	return newReleaseVerifier(key, client), nil
}

func newReleaseVerifier(key *crypto.Key, client *http.Client) *ReleaseVerifier {
	if client == nil {
		client = clonedTransport()
	}
	return &ReleaseVerifier{
		client: client,
		pgp:    crypto.PGP(),
		key:    key,
	}
}

func parseKey(data []byte) (*crypto.Key, error) {
	if strings.Contains(string(data), "-----BEGIN PGP") {
		return crypto.NewKeyFromArmored(string(data))
	}
	return crypto.NewKey(data)
}

// Verify fetches dists/<suite>/InRelease from mirror and checks its
// clear-text signature. Failures are ErrReleaseVerificationFailed.
func (v *ReleaseVerifier) Verify(ctx context.Context, mirror MirrorURL, suite string) error {
	if suite == "" {
		return errors.Wrap(ErrReleaseVerificationFailed, "no suite found in the active configuration")
	}

	data, err := v.fetchInRelease(ctx, mirror, suite)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "mirror %s", mirror), ErrReleaseVerificationFailed)
	}

	verifier, err := v.pgp.Verify().VerificationKey(v.key).New()
	if err != nil {
		return errors.Wrap(err, "failed to create verifier")
	}

	result, err := verifier.VerifyCleartext(data)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "PGP signature verification failed for InRelease of %s", mirror), ErrReleaseVerificationFailed)
	}
	if sigErr := result.SignatureError(); sigErr != nil {
		return errors.Mark(errors.Wrapf(sigErr, "PGP signature verification failed for InRelease of %s", mirror), ErrReleaseVerificationFailed)
	}

	slog.Info("PGP signature for clear-signed InRelease is valid", "mirror", mirror, "suite", suite, "key_id", v.key.GetHexKeyID())
	return nil
}

func (v *ReleaseVerifier) fetchInRelease(ctx context.Context, mirror MirrorURL, suite string) ([]byte, error) {
	target, err := mirror.resolve(path.Join("dists", suite, "InRelease"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, releaseFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer closeRespBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status code %d for %s", resp.StatusCode, target)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReleaseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxReleaseBytes {
		return nil, errors.Newf("%s exceeds %d bytes", target, maxReleaseBytes)
	}
	return data, nil
}
