package crypto

import "runtime"

// Wipe overwrites key material with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// LockMemory keeps b out of swap where the platform supports it.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return lockMemory(b)
}

// UnlockMemory releases a LockMemory lock.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unlockMemory(b)
}
