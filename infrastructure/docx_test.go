package infrastructure

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Formulaire de candidature</w:t></w:r></w:p>
<w:p><w:r><w:t>Nom :</w:t></w:r><w:r><w:tab/><w:t>KONE</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Mathématiques 2nde T1 : </w:t></w:r><w:r><w:t>12,5</w:t></w:r></w:p>
</w:body>
</w:document>`

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"word/document.xml":            documentXML,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDocxText(t *testing.T) {
	text, err := ExtractDocxText(buildDocx(t, testDocumentXML))
	require.NoError(t, err)
	assert.Equal(t, "Formulaire de candidature\nNom :\tKONE\nMathématiques 2nde T1 : 12,5", text)
}

func TestExtractDocxTextRejectsGarbage(t *testing.T) {
	_, err := ExtractDocxText([]byte("not a zip"))
	assert.Error(t, err)
}

func TestLoadDocumentConvertsDocx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidature.docx")
	require.NoError(t, os.WriteFile(path, buildDocx(t, testDocumentXML), 0o644))

	doc, err := LoadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "candidature.docx", doc.Name)
	assert.True(t, doc.IsText())
	assert.Contains(t, string(doc.Data), "KONE")
}
