package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("Should accept the default config", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})
	t.Run("Should reject invalid paths", func(t *testing.T) {
		cases := map[string]string{
			"":             "cannot be empty",
			"metrics":      "must start with '/'",
			"/metrics?x=1": "query parameters",
			"/action":      "conflicts",
		}
		for path, msg := range cases {
			err := (&Config{Enabled: true, Path: path}).Validate()
			assert.ErrorContains(t, err, msg, path)
		}
	})
}
