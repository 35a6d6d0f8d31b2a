package util

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/russross/blackfriday/v2"
)

//go:embed version.txt
var embeddedVersion string

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// UserAgent is sent with every outgoing federation request
func UserAgent() string {
	return fmt.Sprintf("%s/%s ActivityPub", Name, GetVersion())
}

// MarkdownToHTML renders markdown source into the HTML carried by wire objects
func MarkdownToHTML(text string) string {
	out := blackfriday.Run([]byte(text), blackfriday.WithExtensions(blackfriday.CommonExtensions))
	return strings.TrimSpace(string(out))
}

// ExtractDomain extracts the host from a URI
// Example: "https://lemmy.example/u/alice" -> "lemmy.example"
func ExtractDomain(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid URI %q: missing host", uri)
	}
	return parsed.Host, nil
}
