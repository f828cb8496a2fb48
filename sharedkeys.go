package fleece

import (
	"sync"
)

const (
	// MaxSharedKeyCount is the ceiling on the number of codes in a scope.
	// Codes are 0..MaxSharedKeyCount-1, which always fit a small int cell.
	MaxSharedKeyCount = 2048

	// DefaultMaxSharedKeyLength is the longest key that gets a code by default.
	DefaultMaxSharedKeyLength = 16
)

// SharedKeys maps dictionary key strings to small integer codes, so that keys
// repeated across many documents are stored as 2-byte ints.
//
// Codes are assigned densely from zero in first-seen order. A scope only ever
// grows, except for RevertToCount which undoes additions that were never
// persisted. Once Freeze is called no codes are added; lookups of a frozen
// scope don't contend with anything.
//
// SharedKeys is safe for concurrent use.
type SharedKeys struct {
	mu           sync.RWMutex
	byKey        []string
	table        map[string]int
	maxKeyLength int
	frozen       bool
}

func NewSharedKeys() *SharedKeys {
	return &SharedKeys{
		table:        make(map[string]int),
		maxKeyLength: DefaultMaxSharedKeyLength,
	}
}

// SharedKeysFromStateData creates a scope from data produced by StateData.
func SharedKeysFromStateData(state []byte) (*SharedKeys, error) {
	sk := NewSharedKeys()
	if err := sk.LoadStateData(state); err != nil {
		return nil, err
	}
	return sk, nil
}

// Count returns the number of assigned codes.
func (sk *SharedKeys) Count() int {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	return len(sk.byKey)
}

func (sk *SharedKeys) SetMaxKeyLength(n int) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	sk.maxKeyLength = n
}

// Freeze stops the scope from assigning new codes.
func (sk *SharedKeys) Freeze() {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	sk.frozen = true
}

func (sk *SharedKeys) IsFrozen() bool {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	return sk.frozen
}

// Encode returns the code of an already known key.
func (sk *SharedKeys) Encode(key string) (int, bool) {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	code, ok := sk.table[key]
	return code, ok
}

// EncodeAndAdd returns the key's code, assigning the next one if the key is
// new and eligible. Returns false if the key must be written as a string.
func (sk *SharedKeys) EncodeAndAdd(key string) (int, bool) {
	if code, ok := sk.Encode(key); ok {
		return code, true
	}
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if code, ok := sk.table[key]; ok {
		return code, true
	}
	if !sk.couldAdd(key) {
		return 0, false
	}
	return sk.add(key), true
}

func (sk *SharedKeys) couldAdd(key string) bool {
	return !sk.frozen && len(sk.byKey) < MaxSharedKeyCount && len(key) <= sk.maxKeyLength && isEligibleSharedKey(key)
}

func (sk *SharedKeys) add(key string) int {
	code := len(sk.byKey)
	sk.byKey = append(sk.byKey, key)
	sk.table[key] = code
	return code
}

// isEligibleSharedKey accepts keys made of ASCII alphanumerics, '_' and '-'.
func isEligibleSharedKey(key string) bool {
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// Decode returns the key for code. Unknown codes are a SharedKeysStateError:
// the data was encoded against a different (or newer) scope.
func (sk *SharedKeys) Decode(code int) (string, error) {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	if code < 0 || code >= len(sk.byKey) {
		return "", errorf(SharedKeysStateError, "unknown shared key %d (scope has %d)", code, len(sk.byKey))
	}
	return sk.byKey[code], nil
}

func (sk *SharedKeys) IsUnknownKey(code int) bool {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	return code < 0 || code >= len(sk.byKey)
}

// Keys returns the keys in code order.
func (sk *SharedKeys) Keys() []string {
	sk.mu.RLock()
	defer sk.mu.RUnlock()
	return append([]string(nil), sk.byKey...)
}

// RevertToCount forgets codes assigned after the first n.
func (sk *SharedKeys) RevertToCount(n int) error {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if n > len(sk.byKey) || n < 0 {
		return errorf(SharedKeysStateError, "can't revert to count %d (scope has %d)", n, len(sk.byKey))
	}
	for _, key := range sk.byKey[n:] {
		delete(sk.table, key)
	}
	clear(sk.byKey[n:])
	sk.byKey = sk.byKey[:n]
	return nil
}

// StateData encodes the scope as a Fleece array of strings, in code order.
func (sk *SharedKeys) StateData() []byte {
	keys := sk.Keys()
	enc := NewEncoder()
	enc.BeginArray(len(keys))
	for _, key := range keys {
		enc.WriteString(key)
	}
	enc.EndArray()
	data, err := enc.Finish()
	if err != nil {
		panic(err) // unreachable: the write sequence is always well-formed
	}
	return data
}

// LoadStateData merges state produced by StateData. The state must extend
// the current one: its first Count() keys have to match.
func (sk *SharedKeys) LoadStateData(state []byte) error {
	root, err := decodeRoot(state, nil)
	if err != nil {
		return wrapErrorf(SharedKeysStateError, err, "shared keys state")
	}
	arr := root.AsArray()
	if root.Type() != TypeArray {
		return errorf(SharedKeysStateError, "shared keys state is %v, not an array", root.Type())
	}

	n := arr.Count()
	if n > MaxSharedKeyCount {
		return errorf(SharedKeysStateError, "shared keys state exceeds %d keys", MaxSharedKeyCount)
	}
	keys := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for i, item := range arr.All() {
		if item.Type() != TypeString {
			return errorf(SharedKeysStateError, "shared key %d is %v", i, item.Type())
		}
		key := item.AsString()
		if seen[key] {
			return errorf(SharedKeysStateError, "shared key %q appears twice", key)
		}
		seen[key] = true
		keys = append(keys, key)
	}

	// Nothing changes unless the whole state checks out.
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if n < len(sk.byKey) {
		return errorf(SharedKeysStateError, "shared keys state has %d keys, fewer than the current %d", n, len(sk.byKey))
	}
	for i, key := range sk.byKey {
		if keys[i] != key {
			return errorf(SharedKeysStateError, "shared key %d is %q, state has %q", i, key, keys[i])
		}
	}
	for _, key := range keys[len(sk.byKey):] {
		sk.add(key)
	}
	return nil
}
