package installer

import (
	"bytes"
	"text/template"

	"github.com/pkg/errors"

	"github.com/swiftkernel/swiftkernel/internal/session"
)

// manifestTemplate synthesizes the throwaway package manifest:
// a dummy product depending on the requested package,
// declaring the requested product links. swift-tools-version 5.6 is new
// enough to allow branch-based dependencies.
const manifestTemplate = `// swift-tools-version:5.6
import PackageDescription

let package = Package(
    name: "JupyterInstall",
    products: [
        .library(name: "JupyterInstall", targets: ["JupyterInstall"]),
    ],
    dependencies: [
        .package(url: "{{ .URL }}", {{ .Requirement }}),
    ],
    targets: [
        .target(
            name: "JupyterInstall",
            dependencies: [
                {{ range .Products }}.product(name: "{{ . }}", package: "{{ $.PackageName }}"),
                {{ end }}
            ]
        ),
    ]
)
`

type manifestData struct {
	URL         string
	Requirement string
	PackageName string
	Products    []string
}

var manifestTpl = template.Must(template.New("manifest").Parse(manifestTemplate))

// renderManifest turns a PackageSpec's dependency specification (a
// "<url> <requirement...>" string, e.g.
// `https://github.com/apple/swift-numerics from: "1.0.0"`) into a
// Package.swift body.
func renderManifest(spec session.PackageSpec) (string, error) {
	url, requirement, packageName, err := parseDependencySpec(spec.DependencySpec)
	if err != nil {
		return "", err
	}
	data := manifestData{
		URL:         url,
		Requirement: requirement,
		PackageName: packageName,
		Products:    spec.Products,
	}
	var buf bytes.Buffer
	if err := manifestTpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "rendering package manifest")
	}
	return buf.String(), nil
}
