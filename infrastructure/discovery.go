package infrastructure

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"bulletin-verifier/domain"
)

var (
	bulletinKeywords    = []string{"bulletin", "2nde", "1ere", "1ère", "terminale", "tle", "seconde", "premiere"}
	declarationKeywords = []string{"formulaire", "dossier", "cand_"}
	declarationPrefix   = "candidature"

	documentTypes = map[string]string{
		".pdf":  "application/pdf",
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".docx": "text/plain",
	}
)

// Detection tells which documents of a folder would be used by a run.
type Detection struct {
	Folder      string   `json:"folder"`
	Declaration string   `json:"declaration,omitempty"`
	Bulletins   []string `json:"bulletins"`
	Verifiable  bool     `json:"verifiable"`
}

// Document is one candidate file handed to a recognizer.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// LoadDocument reads a candidate file. Word documents are reduced to their
// text so every backend can take them.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".docx" {
		text, err := ExtractDocxText(data)
		if err != nil {
			return Document{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		data = []byte(text)
	}
	return Document{
		Name:     filepath.Base(path),
		MIMEType: documentTypes[ext],
		Data:     data,
	}, nil
}

func (d Document) IsPDF() bool {
	return d.MIMEType == "application/pdf"
}

func (d Document) IsText() bool {
	return d.MIMEType == "text/plain"
}

// ResolveFolder finds a candidate folder under root. name may be a path to a
// folder inside root, a folder name under root, or a case-insensitive
// fragment of one; the first folder in name order wins. Nothing outside root
// is ever returned.
func ResolveFolder(root, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty folder name", domain.ErrFolderNotFound)
	}
	if within(root, name) && isDir(name) {
		return name, nil
	}
	if direct := filepath.Join(root, name); within(root, direct) && isDir(direct) {
		return direct, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: candidatures root %s", domain.ErrFolderNotFound, root)
		}
		return "", fmt.Errorf("list %s: %w", root, err)
	}
	needle := strings.ToLower(filepath.Base(name))
	for _, e := range entries {
		if e.IsDir() && strings.Contains(strings.ToLower(e.Name()), needle) {
			return filepath.Join(root, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrFolderNotFound, name)
}

// ResolvePath accepts any existing directory before falling back to
// ResolveFolder. Only the command line uses it, where the operator names the
// folder on their own machine.
func ResolvePath(root, name string) (string, error) {
	if path := strings.TrimSpace(name); path != "" && isDir(path) {
		return path, nil
	}
	return ResolveFolder(root, name)
}

// within reports whether path lies strictly below root.
func within(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ListFolders returns every candidate folder under root.
func ListFolders(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	return out, nil
}

// FindDeclaration picks the declaration form: the first document named like a
// form, otherwise the first document that is not a bulletin.
func FindDeclaration(folder string) (string, error) {
	docs, err := documents(folder)
	if err != nil {
		return "", err
	}
	var fallback string
	for _, name := range docs {
		if isBulletin(name) {
			continue
		}
		if isDeclaration(name) {
			return filepath.Join(folder, name), nil
		}
		if fallback == "" {
			fallback = name
		}
	}
	if fallback == "" {
		return "", domain.NewError(domain.KindInputMissing, "find declaration",
			fmt.Errorf("no declaration form in %s", folder))
	}
	return filepath.Join(folder, fallback), nil
}

// FindBulletins returns the official school reports of the folder.
func FindBulletins(folder string) ([]string, error) {
	docs, err := documents(folder)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range docs {
		if isBulletin(name) {
			out = append(out, filepath.Join(folder, name))
		}
	}
	if len(out) == 0 {
		return nil, domain.NewError(domain.KindInputMissing, "find bulletins",
			fmt.Errorf("no school report in %s", folder))
	}
	return out, nil
}

// Detect reports what a verification run would find without running one.
func Detect(folder string) (Detection, error) {
	d := Detection{Folder: folder, Bulletins: []string{}}
	if _, err := documents(folder); err != nil {
		return d, err
	}
	if path, err := FindDeclaration(folder); err == nil {
		d.Declaration = filepath.Base(path)
	}
	if paths, err := FindBulletins(folder); err == nil {
		for _, p := range paths {
			d.Bulletins = append(d.Bulletins, filepath.Base(p))
		}
	}
	d.Verifiable = d.Declaration != "" && len(d.Bulletins) > 0
	return d, nil
}

// IdentityFromFolder derives "Prenom NOM" from a folder named NOM_Prenom[_...].
func IdentityFromFolder(folder string) (string, bool) {
	parts := strings.Split(filepath.Base(folder), "_")
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	last := strings.ToUpper(strings.TrimSpace(parts[0]))
	first := cases.Title(language.French).String(strings.TrimSpace(parts[1]))
	return first + " " + last, true
}

func documents(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrFolderNotFound, folder)
		}
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := documentTypes[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func isBulletin(name string) bool {
	return containsAny(stem(name), bulletinKeywords)
}

func isDeclaration(name string) bool {
	s := stem(name)
	return strings.HasPrefix(s, declarationPrefix) || containsAny(s, declarationKeywords)
}

func stem(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
