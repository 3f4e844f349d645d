package kml

import (
	"strings"
	"testing"
)

func TestEscapeShellPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "plain text untouched",
			payload: "<Placemark><name>Paris</name></Placemark>",
			want:    "<Placemark><name>Paris</name></Placemark>",
		},
		{
			name:    "double quotes escaped",
			payload: `name="Joe's <Tour>"`,
			want:    `name=\"Joe's <Tour>\"`,
		},
		{
			name:    "variable sigil escaped",
			payload: "altitude is $HOME high",
			want:    `altitude is \$HOME high`,
		},
		{
			name:    "backtick escaped",
			payload: "run `reboot` now",
			want:    "run \\`reboot\\` now",
		},
		{
			name:    "backslash escaped before quotes",
			payload: `path\to "file"`,
			want:    `path\\to \"file\"`,
		},
		{
			name:    "single quotes preserved",
			payload: "Joe's place",
			want:    "Joe's place",
		},
		{
			name:    "empty payload",
			payload: "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeShellPayload(tt.payload); got != tt.want {
				t.Errorf("EscapeShellPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEscapeShellPayloadNoTruncation(t *testing.T) {
	// No escaped payload may contain a bare double quote; that is what
	// truncates the remote write.
	payloads := []string{
		`"`, `""`, `a"b"c`, `$("`, "`\"`", `\"`,
	}
	for _, payload := range payloads {
		escaped := EscapeShellPayload(payload)
		stripped := strings.ReplaceAll(escaped, `\\`, "")
		for i, r := range stripped {
			if r != '"' {
				continue
			}
			if i == 0 || stripped[i-1] != '\\' {
				t.Errorf("EscapeShellPayload(%q) = %q leaves a bare double quote", payload, escaped)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	valid := `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document>
<Placemark><name>Paris</name></Placemark>
</Document>
</kml>`

	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid document", valid, false},
		{"missing xml declaration", strings.Replace(valid, "<?xml", "<notxml", 1), true},
		{"missing document tags", `<?xml version="1.0"?><kml></kml>`, true},
		{"no geographic content", EmptyDocument, true},
		{"camera counts as content", strings.Replace(valid, "<Placemark><name>Paris</name></Placemark>", "<Camera></Camera>", 1), false},
		{"empty string", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	doc := "<?xml version=\"1.0\"?>\n<kml></kml>"
	tests := []struct {
		name  string
		input string
	}{
		{"no fences", doc},
		{"xml fences", "```xml\n" + doc + "\n```"},
		{"plain fences", "```\n" + doc + "\n```"},
		{"surrounding whitespace", "\n\n  " + doc + "  \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFences(tt.input); got != doc {
				t.Errorf("StripCodeFences() = %q, want %q", got, doc)
			}
		})
	}
}

func TestWrapDocument(t *testing.T) {
	doc := WrapDocument("Logos", "<Placemark></Placemark>")
	if err := Validate(doc); err != nil {
		t.Errorf("WrapDocument() produced invalid kml: %v", err)
	}
	if !strings.Contains(doc, "<name>Logos</name>") {
		t.Errorf("WrapDocument() missing document name: %q", doc)
	}
}
