package archiver

import (
	"bytes"
	"embed"
	"text/template"
	"time"

	"github.com/inovacc/tfsarchive/internal/archive"
	"github.com/inovacc/tfsarchive/internal/model"
)

// Restore document names inside a container
const (
	RestoreEN = "README_RESTORE_EN.txt"
	RestoreRU = "README_RESTORE_RU.txt"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type restoreData struct {
	Name   string
	Safe   string
	Branch string
	Empty  bool
	Date   string
}

type rootReadmeData struct {
	Project string
	Root    string
	Zip     bool
	Date    string
}

func render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func renderRootReadme(data rootReadmeData) ([]byte, error) {
	return render("root_readme.md.tmpl", data)
}

// RestoreDocuments renders the bilingual restoration notes for one repository.
func RestoreDocuments(d model.RepositoryDescriptor, empty bool, now time.Time) ([]archive.Document, error) {
	data := restoreData{
		Name:   d.Name,
		Safe:   d.SafeName(),
		Branch: d.BranchHint(),
		Empty:  empty,
		Date:   now.Format(time.DateTime),
	}

	en, err := render("restore_en.txt.tmpl", data)
	if err != nil {
		return nil, err
	}

	ru, err := render("restore_ru.txt.tmpl", data)
	if err != nil {
		return nil, err
	}

	return []archive.Document{
		{Name: RestoreEN, Content: en},
		{Name: RestoreRU, Content: ru},
	}, nil
}
