// Package erasure splits a blob into self-describing Reed-Solomon shards.
//
// The key store uses it to back up a sealed private key across several files
// so that the key survives the loss of up to ParityShards of them. Shards carry
// no secrecy of their own; the blob must already be sealed.
package erasure
