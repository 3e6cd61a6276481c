package cloud

import (
	"sort"
	"strings"
)

// canonicalContext flattens an encryption context into a stable byte
// string for use as additional authenticated data. Both sides of an
// encrypt/decrypt pair must canonicalize identically or decryption
// fails.
func canonicalContext(context map[string]string) []byte {
	if len(context) == 0 {
		return nil
	}
	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+context[key])
	}
	return []byte(strings.Join(pairs, "&"))
}
