package engage

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nudgebot/internal/notify"
)

func TestLoadCatalogOverridesPerCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
check_in:
  - title: "How are you?"
    body: "One word is enough."
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, []Message{{Title: "How are you?", Body: "One word is enough."}}, c[notify.CategoryCheckIn])
	require.Len(t, c[notify.CategoryEngagement], 3)
}

func TestParseCatalogErrors(t *testing.T) {
	cases := map[string]string{
		"unknown category": "nope:\n  - title: x\n",
		"missing title":    "insight:\n  - body: x\n",
		"empty list":       "insight: []\n",
		"not yaml":         "insight: [",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(in))
			require.Error(t, err)
		})
	}
}

func TestPickFallsBackToEngagement(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := DefaultCatalog()
	m := c.pick(notify.CategoryReminder, rng)
	require.Contains(t, c[notify.CategoryEngagement], m)
	require.Equal(t, Message{Title: "Checking in"}, Catalog{}.pick(notify.CategoryInsight, rng))
}
