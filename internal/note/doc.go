// Package note implements the private note primitives for the hushpool
// protocol.
//
// Overview:
//   - A Note is a client-held claim on a deposited amount, identified by a
//     256-bit secret that never leaves the client
//   - The commitment binds (secret, amount) and is the only thing published
//     on deposit; the nullifier is derived from the same inputs under a
//     fixed domain tag and is published on withdrawal to prevent
//     double-spends
//   - All derivations use MiMC over the BW6-761 scalar field so that the
//     same hashes can be recomputed inside the spend circuit
//
// Security Model:
//   - Secrets are generated with crypto/rand; losing a secret makes the
//     note's funds permanently inaccessible
//   - Derivations are pure, deterministic, and free of I/O; they are safe
//     to call from any goroutine
//   - The nullifier is a pure function of (secret, amount) plus the domain
//     tag, so re-deriving it for the same note is idempotent across spend
//     attempts
package note
