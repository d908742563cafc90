package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	old := Version
	Version = "v1.2.3"
	t.Cleanup(func() { Version = old })

	s := String("pointgen")
	assert.Contains(t, s, "pointgen v1.2.3")
	assert.Contains(t, s, "git "+GitSHA)
}
