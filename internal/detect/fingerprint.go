package detect

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/xxh3"

	"github.com/hazyhaar/vigil/internal/extract"
)

// fingerprint hashes the sorted changed-key triples (key, prior, current)
// with xxh3-128, rendered as 32 hex characters. The same diff always yields
// the same fingerprint, which is what event dedup keys on.
func fingerprint(changed []string, prior, current extract.StateMap) string {
	triples := make([][3]string, 0, len(changed))
	for _, k := range changed {
		triples = append(triples, [3]string{k, renderValue(prior, k), renderValue(current, k)})
	}
	// Arrays of strings have one canonical JSON rendering.
	data, _ := json.Marshal(triples)
	h := xxh3.Hash128(data)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], h.Lo)
	binary.LittleEndian.PutUint64(buf[8:], h.Hi)
	return hex.EncodeToString(buf[:])
}
