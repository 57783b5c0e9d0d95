package infrastructure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin-verifier/domain"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("%PDF-1.4"), 0o644))
	}
}

func TestFindDeclarationByPattern(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "annexe.pdf", "bulletin_2nde.pdf", "candidature_OUATTARA.pdf")

	path, err := FindDeclaration(dir)
	require.NoError(t, err)
	assert.Equal(t, "candidature_OUATTARA.pdf", filepath.Base(path))
}

func TestFindDeclarationByExclusion(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "bulletin_tle.pdf", "scan001.pdf")

	path, err := FindDeclaration(dir)
	require.NoError(t, err)
	assert.Equal(t, "scan001.pdf", filepath.Base(path))
}

func TestFindDeclarationMissing(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "bulletin_tle.pdf", "notes.txt")

	_, err := FindDeclaration(dir)
	assert.ErrorIs(t, err, domain.ErrInputMissing)
}

func TestFindBulletins(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Bulletin_1ere_T1.PDF", "terminale_T2.jpg", "formulaire.pdf", "Seconde.png", "readme.md")

	paths, err := FindBulletins(dir)
	require.NoError(t, err)
	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.ElementsMatch(t, []string{"Bulletin_1ere_T1.PDF", "terminale_T2.jpg", "Seconde.png"}, names)
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "dossier.pdf")

	d, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "dossier.pdf", d.Declaration)
	assert.Empty(t, d.Bulletins)
	assert.False(t, d.Verifiable)

	touch(t, dir, "bulletin_2nde.pdf")
	d, err = Detect(dir)
	require.NoError(t, err)
	assert.True(t, d.Verifiable)
	assert.Equal(t, []string{"bulletin_2nde.pdf"}, d.Bulletins)

	_, err = Detect(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, domain.ErrFolderNotFound)
}

func TestResolveFolder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "KONE_Awa_2025"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "OUATTARA_Ismael"), 0o755))

	got, err := ResolveFolder(root, "OUATTARA_Ismael")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "OUATTARA_Ismael"), got)

	got, err = ResolveFolder(root, "kone")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "KONE_Awa_2025"), got)

	_, err = ResolveFolder(root, "DIALLO")
	assert.ErrorIs(t, err, domain.ErrFolderNotFound)
}

func TestResolveFolderStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "KONE_Awa"), 0o755))

	cwd := t.TempDir()
	outside := filepath.Join(cwd, "TRAORE_Outside")
	require.NoError(t, os.Mkdir(outside, 0o755))
	t.Chdir(cwd)

	for _, name := range []string{"TRAORE_Outside", outside, "../" + filepath.Base(cwd), ".", ".."} {
		_, err := ResolveFolder(root, name)
		assert.ErrorIs(t, err, domain.ErrFolderNotFound, name)
	}

	got, err := ResolveFolder(root, filepath.Join(root, "KONE_Awa"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "KONE_Awa"), got)
}

func TestResolvePathAcceptsLocalDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "KONE_Awa"), 0o755))
	outside := t.TempDir()

	got, err := ResolvePath(root, outside)
	require.NoError(t, err)
	assert.Equal(t, outside, got)

	got, err = ResolvePath(root, "kone")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "KONE_Awa"), got)
}

func TestIdentityFromFolder(t *testing.T) {
	name, ok := IdentityFromFolder("/data/OUATTARA_ismael_2025")
	require.True(t, ok)
	assert.Equal(t, "Ismael OUATTARA", name)

	_, ok = IdentityFromFolder("/data/candidate42")
	assert.False(t, ok)
}
