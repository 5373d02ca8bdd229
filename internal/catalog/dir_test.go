package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sana-health/procsync/internal/procedure"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDir_ListAndFetch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "malaria.xml", malariaXML)
	writeFile(t, root, "anc.xml", `<Procedure title="ANC"/>`)
	writeFile(t, root, "notes.txt", "ignore me")
	writeFile(t, root, ".hidden.xml", "ignore me")
	writeFile(t, root, "malaria.xml~", "ignore me")
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub.xml"), 0o755))

	d := NewDir(root)
	ctx := context.Background()

	list, err := d.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []procedure.Descriptor{{ID: "anc"}, {ID: "malaria"}}, list)

	body, err := d.Fetch(ctx, "malaria")
	require.NoError(t, err)
	assert.Equal(t, malariaXML, body)
}

func TestDir_Errors(t *testing.T) {
	d := NewDir(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"missing", "", "..", "../etc/passwd"} {
		_, err := d.Fetch(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, "id %q", id)
	}

	_, err := NewDir(filepath.Join(t.TempDir(), "nope")).List(ctx)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestIsProcedureFile(t *testing.T) {
	assert.True(t, IsProcedureFile("/sd/procedures/hiv.xml"))
	assert.False(t, IsProcedureFile("hiv.json"))
	assert.False(t, IsProcedureFile(".#hiv.xml"))
	assert.False(t, IsProcedureFile("hiv.xml~"))
}
