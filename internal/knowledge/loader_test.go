package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProducesOneRecordPerHeading(t *testing.T) {
	dir := t.TempDir()
	content := "---\ncategory: shipping\n---\n\n# Return Policy\n\nYou can return items within 30 days.\n\n# Warranty\n\nAll products carry a 2 year warranty.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policies.md"), []byte(content), 0o644))

	records, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "kb:policies:return-policy", records[0].ID)
	assert.Equal(t, "Return Policy", records[0].Title)
	assert.Contains(t, records[0].Body, "30 days")
	assert.Equal(t, "shipping", records[0].Attributes.String("category"))

	assert.Equal(t, "kb:policies:warranty", records[1].ID)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "return-policy", slugify("Return Policy"))
	assert.Equal(t, "1p-n-breakers", slugify("1P+N Breakers"))
}
