package protocol

import "fmt"

// MIME type constants for the handful of display formats the kernel
// produces directly (execution results render both plain text and HTML so
// the front-end can pick the richer one it understands).
const (
	MIMETypeHTML = "text/html"
	MIMETypeJSON = "application/json"
	MIMETypePNG  = "image/png"
	MIMETypeText = "text/plain"
)

// MIMEMap holds data presentable in multiple formats, keyed by MIME type.
type MIMEMap = map[string]interface{}

// Data is the exact structure published to Jupyter for execute_result and
// display_data messages.
type Data struct {
	Data      MIMEMap
	Metadata  MIMEMap
	Transient MIMEMap
}

func ensureMIMEMap(m MIMEMap) MIMEMap {
	if m == nil {
		return make(MIMEMap)
	}
	return m
}

// MakeData builds a Data value with a single MIME entry, additionally
// filling text/plain via fmt.Sprint when the caller's mimeType isn't
// already plain text.
func MakeData(mimeType string, value interface{}) Data {
	d := Data{Data: MIMEMap{mimeType: value}}
	if mimeType != MIMETypeText {
		d.Data[MIMETypeText] = fmt.Sprint(value)
	}
	return d
}

// MakeData2 builds a Data value carrying both a plain-text rendering and a
// richer MIME rendering, e.g. a plain summary alongside an HTML table.
func MakeData2(mimeType string, plain string, rich interface{}) Data {
	return Data{Data: MIMEMap{
		MIMETypeText: plain,
		mimeType:     rich,
	}}
}
