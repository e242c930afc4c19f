package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<title>"+html.EscapeString(title)+"</title>")
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head><body><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// UploadPage renders the upload form. The file input is named field and its
// accept attribute is limited to extensions.
func UploadPage(field string, extensions []string) templ.Component {
	return Layout("File Upload", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Upload a file</h1>")
		if err != nil {
			return err
		}

		accepted := html.EscapeString(strings.Join(extensions, ", "))
		_, err = fmt.Fprintf(w, "<p>Accepted file types: %s</p></header>", accepted)
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<form method=\"post\" action=\"/\" enctype=\"multipart/form-data\">")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<input type=\"file\" name=\"%s\" accept=\"%s\" required>",
			html.EscapeString(field), html.EscapeString(strings.Join(extensions, ",")))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<button type=\"submit\">Upload</button></form>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<p><a href=\"/contents\">Stored files</a></p></section>")
		return err
	}))
}
