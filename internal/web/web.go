// Package web serves the browser capture page
package web

import (
	_ "embed"
	"net/http"
)

//go:embed static/index.html
var indexHTML []byte

// IndexHandler serves the capture and upload page
func IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(indexHTML)
	}
}
