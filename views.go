package auth

import (
	"embed"
	"io/fs"

	cfs "github.com/goliatone/go-composite-fs"
)

//go:embed views
var viewsFS embed.FS

// ViewsFS returns the embedded auth pages rooted at the views directory.
// Templates in overrides take precedence over the embedded ones.
func ViewsFS(overrides ...fs.FS) fs.FS {
	embedded, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}

	if len(overrides) == 0 {
		return embedded
	}

	layers := append([]fs.FS{}, overrides...)
	layers = append(layers, embedded)
	return cfs.NewCompositeFS(layers...)
}
