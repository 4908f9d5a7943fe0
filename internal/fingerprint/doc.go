// Package fingerprint derives a stable identity for raw intake input.
//
// An input's Fingerprint combines the protocol Message-ID, when the input is
// an email, with a SHA-256 over the canonicalized plain body and subject.
// Byte-identical input always yields an identical Fingerprint, and inputs
// that differ only in line endings or whitespace runs hash the same.
package fingerprint
