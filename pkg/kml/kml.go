// Package kml holds the KML envelope helpers and the single payload
// sanitization routine used before embedding markup into remote shell
// commands. All escaping lives here so dangerous inputs are handled in one
// tested place instead of ad hoc at each call site.
package kml

import (
	"fmt"
	"strings"

	errorutil "github.com/projectdiscovery/utils/errors"
)

// EmptyDocument is the minimal valid document written to a content slot on
// teardown. Writing it again is a no-op from the viewer's perspective,
// which is what makes Clear idempotent.
const EmptyDocument = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:gx="http://www.google.com/kml/ext/2.2">
<Document>
</Document>
</kml>`

// payloadEscaper rewrites the characters that are special inside a
// double-quoted shell word. The payload travels inside `echo "..."`, so an
// unescaped quote truncates the write and an unescaped sigil substitutes a
// remote variable into the markup. Backslash must come first.
var payloadEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
)

// EscapeShellPayload sanitizes an opaque markup payload for embedding in a
// double-quoted remote write command. Angle brackets and single quotes are
// left intact; they are not special inside double quotes.
func EscapeShellPayload(payload string) string {
	return payloadEscaper.Replace(payload)
}

var requiredElements = []string{
	"<?xml",
	"<kml",
	"<Document>",
	"</Document>",
	"</kml>",
}

var contentElements = []string{
	"<Camera>",
	"<LookAt>",
	"<gx:FlyTo>",
	"<Placemark>",
	"<LineString>",
	"<Polygon>",
}

// Validate checks that a document carries the required envelope and at
// least one geographic element. It is a structural check, not a schema
// validation.
func Validate(doc string) error {
	for _, element := range requiredElements {
		if !strings.Contains(doc, element) {
			return errorutil.New("kml missing required element %s", element)
		}
	}
	for _, element := range contentElements {
		if strings.Contains(doc, element) {
			return nil
		}
	}
	return errorutil.New("kml has no geographic content")
}

// WrapDocument wraps body in a named Document envelope.
func WrapDocument(name, body string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:gx="http://www.google.com/kml/ext/2.2">
<Document>
<name>%s</name>
%s
</Document>
</kml>`, name, body)
}

// StripCodeFences removes the markdown fences language models like to wrap
// generated markup in.
func StripCodeFences(doc string) string {
	doc = strings.TrimSpace(doc)
	doc = strings.TrimPrefix(doc, "```xml")
	doc = strings.TrimPrefix(doc, "```")
	doc = strings.TrimSuffix(doc, "```")
	return strings.TrimSpace(doc)
}
