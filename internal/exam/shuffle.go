package exam

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// Shuffle returns the presentation order for an attempt. The permutation is a
// pure function of the exam and attempt ids, so it can be recomputed on resume.
func Shuffle(attemptID, examID string, questionIDs []string, randomize bool) []string {
	out := make([]string, len(questionIDs))
	copy(out, questionIDs)
	if !randomize || len(out) < 2 {
		return out
	}

	sum := sha256.Sum256([]byte(examID + ":" + attemptID))
	r := rand.New(rand.NewPCG(binary.BigEndian.Uint64(sum[0:8]), binary.BigEndian.Uint64(sum[8:16])))
	r.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
