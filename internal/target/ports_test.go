package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorts(t *testing.T) {
	t.Run("parses a single port", func(t *testing.T) {
		ports, err := ParsePorts("443")
		require.NoError(t, err)
		assert.Equal(t, []uint16{443}, ports)
	})

	t.Run("parses a comma-separated list in order", func(t *testing.T) {
		ports, err := ParsePorts("80,443,22,8080")
		require.NoError(t, err)
		assert.Equal(t, []uint16{80, 443, 22, 8080}, ports)
	})

	t.Run("tolerates whitespace around entries", func(t *testing.T) {
		ports, err := ParsePorts(" 80, 443 ,22")
		require.NoError(t, err)
		assert.Equal(t, []uint16{80, 443, 22}, ports)
	})

	t.Run("expands inclusive ranges", func(t *testing.T) {
		ports, err := ParsePorts("8000-8003")
		require.NoError(t, err)
		assert.Equal(t, []uint16{8000, 8001, 8002, 8003}, ports)
	})

	t.Run("mixes singles and ranges", func(t *testing.T) {
		ports, err := ParsePorts("22,80-82,443")
		require.NoError(t, err)
		assert.Equal(t, []uint16{22, 80, 81, 82, 443}, ports)
	})

	t.Run("collapses duplicates to first occurrence", func(t *testing.T) {
		ports, err := ParsePorts("443,80,443,79-81")
		require.NoError(t, err)
		assert.Equal(t, []uint16{443, 80, 79, 81}, ports)
	})

	t.Run("accepts boundary ports", func(t *testing.T) {
		ports, err := ParsePorts("1,65535")
		require.NoError(t, err)
		assert.Equal(t, []uint16{1, 65535}, ports)
	})

	t.Run("rejects malformed specifications", func(t *testing.T) {
		inputs := []string{
			"",
			"   ",
			"abc",
			"80,",
			",80",
			"0",
			"65536",
			"-80",
			"80-",
			"90-80",
			"80-443-8080",
		}

		for _, input := range inputs {
			_, err := ParsePorts(input)
			assert.Error(t, err, "input %q", input)
		}
	})
}
