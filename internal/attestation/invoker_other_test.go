//go:build !unix

package attestation

func spawnSleeper() {}
