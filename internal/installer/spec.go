package installer

import (
	"fmt"
	"path"
	"strings"
)

// parseDependencySpec splits a %install dependency spec of the form
// "<git-url> <requirement...>" (e.g. `https://github.com/apple/swift-
// numerics from: "1.0.0"`) into the URL, the SwiftPM requirement clause
// verbatim, and the package name SwiftPM infers from the URL's last path
// component.
func parseDependencySpec(spec string) (url, requirement, packageName string, err error) {
	fields := strings.Fields(spec)
	if len(fields) < 1 {
		return "", "", "", fmt.Errorf("empty dependency spec")
	}
	url = fields[0]
	if len(fields) > 1 {
		requirement = strings.Join(fields[1:], " ")
	} else {
		requirement = `.branch("main")`
	}
	packageName = strings.TrimSuffix(path.Base(url), ".git")
	return url, requirement, packageName, nil
}
