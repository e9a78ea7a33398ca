package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mcq-autopilot/internal/mcq"
)

func TestBuildFingerprintIsStable(t *testing.T) {
	q1 := mcq.Question{Text: "What is 2+2?", Options: [4]string{"3", "4", "5", "6"}}
	q2 := mcq.Question{Text: "What is 2+2?", Options: [4]string{"3", "4", "5", "6"}}

	fp := BuildFingerprint(q1)
	assert.Equal(t, fp, BuildFingerprint(q2))
	assert.Len(t, fp.String(), 2*fingerprintBytes)
}

func TestBuildFingerprintDiffers(t *testing.T) {
	base := mcq.Question{Text: "What is 2+2?", Options: [4]string{"3", "4", "5", "6"}}
	variants := []mcq.Question{
		{Text: "What is 2+3?", Options: base.Options},
		{Text: base.Text, Options: [4]string{"3", "4", "6", "5"}},
		{Text: base.Text, Options: [4]string{"3", "4", "5", "7"}},
		// Same concatenation, different field boundaries.
		{Text: "What is 2+2?3", Options: [4]string{"", "4", "5", "6"}},
	}

	seen := map[Fingerprint]bool{BuildFingerprint(base): true}
	for _, v := range variants {
		fp := BuildFingerprint(v)
		assert.False(t, seen[fp], "collision for %#v", v)
		seen[fp] = true
	}
}
