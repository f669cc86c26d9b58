// Package keys wraps the signature schemes seqcas accepts behind one set of types.
//
// PublicKey, SecretKey, Signature and Keypair are closed unions over three
// schemes:
//   - Ed25519, a single signer;
//   - BLS, the aggregate key of a threshold group;
//   - BLS share, one participant's share of a threshold group secret.
//
// The easiest way to get a PublicKey is to create a random Keypair first through
// one of the New functions. A PublicKey is always derived from a secret key.
//
// Equality, ordering and hashing are defined over the canonical serialization
// (package codec) rather than over the native types, because the native secret
// key types have no comparable form.
package keys
