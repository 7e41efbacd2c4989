package core

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/ed25519"
)

// AppMode distinguishes a trial app manifest from one signed by the
// operator, carried through to the BearerToken it earns (spec §4.M,
// supplemented from the Actyx manifest-validation source: trial manifests
// are only valid under the "com.example.*" namespace, signed ones are
// validated against the node's own public key).
type AppMode int

const (
	AppModeTrial AppMode = iota
	AppModeSigned
)

func (m AppMode) String() string {
	if m == AppModeSigned {
		return "signed"
	}
	return "trial"
}

// trialAppIdPrefix is the only namespace a Trial manifest may claim.
const trialAppIdPrefix = "com.example."

// ErrInvalidManifest is returned by ValidateManifest for any manifest that
// fails its kind's validation rule.
var ErrInvalidManifest = errors.New("core: invalid app manifest")

// AppManifest is the two-shape manifest an app presents to exchange for a
// BearerToken: a bare Trial manifest (app_id must be under com.example.*),
// or a Signed one carrying a signature over its own identity, checked
// against the node's configured Actyx public key.
type AppManifest struct {
	AppId       string
	DisplayName string
	Version     string
	// Signature is nil for a Trial manifest; present (and checked) for a
	// Signed one.
	Signature []byte
}

// signedManifestMessage is the exact byte sequence a Signed manifest's
// Signature must cover.
func signedManifestMessage(m AppManifest) []byte {
	return []byte(m.AppId + "\x00" + m.DisplayName + "\x00" + m.Version)
}

// ValidateManifest classifies manifest and checks it, returning the AppMode
// it earns. A manifest under com.example.* must carry no signature (Trial);
// any other app id must carry a signature verifying against axPublicKey
// (Signed). Any other combination is ErrInvalidManifest.
func ValidateManifest(manifest AppManifest, axPublicKey ed25519.PublicKey) (AppMode, error) {
	isTrialNamespace := strings.HasPrefix(manifest.AppId, trialAppIdPrefix)
	switch {
	case isTrialNamespace && manifest.Signature == nil:
		return AppModeTrial, nil
	case !isTrialNamespace && manifest.Signature != nil:
		if !ed25519.Verify(axPublicKey, signedManifestMessage(manifest), manifest.Signature) {
			return 0, fmt.Errorf("%w: signature does not verify", ErrInvalidManifest)
		}
		return AppModeSigned, nil
	default:
		return 0, fmt.Errorf("%w: app_id %q and signature presence %v are inconsistent", ErrInvalidManifest, manifest.AppId, manifest.Signature != nil)
	}
}

// BearerToken is the signed, time-limited credential an app holds after
// authenticating (spec §4.M), grounded on the Actyx wire format: created
// time, app id, the node's restart cycle count, the app's declared
// version, validity in seconds, and the mode it was granted under.
type BearerToken struct {
	Created  Timestamp
	AppId    string
	Cycles   uint64
	Version  string
	Validity uint32
	AppMode  AppMode
}

// Expiration returns the wall-clock instant this token stops being valid.
func (t BearerToken) Expiration() time.Time {
	created := time.UnixMicro(int64(t.Created))
	return created.Add(time.Duration(t.Validity) * time.Second)
}

// tokenEnvelope is the signed wire form of a BearerToken: CBOR-encoded
// payload plus an ed25519 signature over that payload by the node's own
// signing key, itself CBOR-encoded and base64-wrapped for use as an HTTP
// bearer token string.
type tokenEnvelope struct {
	Payload   []byte
	Signature []byte
}

// ErrTokenExpired is returned by VerifyToken for a structurally valid token
// past its Expiration.
var ErrTokenExpired = errors.New("core: bearer token expired")

// CreateToken signs a fresh BearerToken for appId/version/mode using the
// node's own ed25519 signing key, and returns its base64 wire form.
func CreateToken(nodeKey ed25519.PrivateKey, cycles uint64, tokenValidity uint32, appId, version string, mode AppMode) (string, error) {
	token := BearerToken{
		Created:  TimestampFromMicros(time.Now().UnixMicro()),
		AppId:    appId,
		Cycles:   cycles,
		Version:  version,
		Validity: tokenValidity,
		AppMode:  mode,
	}
	payload, err := cbor.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("core: encoding bearer token: %w", err)
	}
	envelope := tokenEnvelope{Payload: payload, Signature: ed25519.Sign(nodeKey, payload)}
	wire, err := cbor.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("core: encoding token envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(wire), nil
}

// ErrTokenStale is returned by VerifyToken for a token created before the
// node's current restart cycle (spec §4.M: tokens do not survive a restart).
var ErrTokenStale = errors.New("core: bearer token predates current node cycle")

// VerifyToken checks a token's signature against nodePublicKey, its expiry
// against now, and that it was created during the node's current restart
// cycle (currentCycle), returning the decoded BearerToken on success.
func VerifyToken(nodePublicKey ed25519.PublicKey, tokenStr string, now time.Time, currentCycle uint64) (BearerToken, error) {
	wire, err := base64.StdEncoding.DecodeString(tokenStr)
	if err != nil {
		return BearerToken{}, fmt.Errorf("core: decoding token: %w", err)
	}
	var envelope tokenEnvelope
	if err := cbor.Unmarshal(wire, &envelope); err != nil {
		return BearerToken{}, fmt.Errorf("core: decoding token envelope: %w", err)
	}
	if !ed25519.Verify(nodePublicKey, envelope.Payload, envelope.Signature) {
		return BearerToken{}, fmt.Errorf("core: token signature does not verify")
	}
	var token BearerToken
	if err := cbor.Unmarshal(envelope.Payload, &token); err != nil {
		return BearerToken{}, fmt.Errorf("core: decoding bearer token: %w", err)
	}
	if now.After(token.Expiration()) {
		return BearerToken{}, ErrTokenExpired
	}
	if token.Cycles < currentCycle {
		return BearerToken{}, ErrTokenStale
	}
	return token, nil
}
