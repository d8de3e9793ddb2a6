package web

import (
	"embed"
	"io/fs"
)

// TemplatesFS embeds HTML templates for server-side rendering.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS embeds static assets (css/js/images).
//
//go:embed static/*
var StaticFS embed.FS

// Templates returns the templates rooted at their directory.
func Templates() fs.FS {
	return mustSub(TemplatesFS, "templates")
}

// Static returns the static assets rooted at their directory.
func Static() fs.FS {
	return mustSub(StaticFS, "static")
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
