package keys

import (
	"crypto/sha256"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// BenchmarkKDF measures the time taken by one key stretch with the given parameters.
func BenchmarkKDF(k KDFParams, salt []byte) time.Duration {
	probe := sha256.Sum256([]byte("lockbox benchmark"))
	start := time.Now()
	switch k.Algorithm {
	case KDFPBKDF2:
		pbkdf2.Key(probe[:], salt, int(k.Iterations), KeySize, sha256.New)
	default:
		argon2.IDKey(probe[:], salt, k.Iterations, k.MemoryKB, k.Parallelism, KeySize)
	}
	return time.Since(start)
}

// TuneArgon2Params adjusts the Argon2id defaults until one derivation takes
// roughly targetDuration on this machine.
func TuneArgon2Params(targetDuration time.Duration) (KDFParams, error) {
	salt, err := NewSalt()
	if err != nil {
		return KDFParams{}, err
	}

	params := DefaultArgon2Params()
	duration := BenchmarkKDF(params, salt)

	if duration < targetDuration {
		for duration < targetDuration && params.Iterations < 10 {
			params.Iterations++
			duration = BenchmarkKDF(params, salt)
		}
		for duration < targetDuration && params.MemoryKB < 128*1024 {
			params.MemoryKB += 8 * 1024
			duration = BenchmarkKDF(params, salt)
		}
	} else if duration > targetDuration*2 {
		for duration > targetDuration*2 && params.Iterations > 1 {
			params.Iterations--
			duration = BenchmarkKDF(params, salt)
		}
		for duration > targetDuration*2 && params.MemoryKB > 8*1024 {
			params.MemoryKB -= 8 * 1024
			duration = BenchmarkKDF(params, salt)
		}
	}

	return params, nil
}
