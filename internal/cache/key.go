package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key identifies one deployable piece of code on one device identity.
// Equality is structural; two keys differing only in fingerprint are
// different deployments of the same logical method.
type Key struct {
	DeviceType      string
	FirmwareVersion string
	MethodSignature string
	Fingerprint     string
}

func (k Key) String() string {
	return k.DeviceType + "|" + k.FirmwareVersion + "|" + k.MethodSignature + "|" + k.Fingerprint
}

// Fingerprint hashes the exact code bytes. Any edit, whitespace included,
// yields a new fingerprint; stale deployments must never be served for
// changed code.
func Fingerprint(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
