package protocol

// KernelLanguageInfo describes the language a kernel executes code in.
type KernelLanguageInfo struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	MIMEType          string `json:"mimetype"`
	FileExtension     string `json:"file_extension"`
	PygmentsLexer     string `json:"pygments_lexer"`
	CodeMirrorMode    string `json:"codemirror_mode,omitempty"`
	NBConvertExporter string `json:"nbconvert_exporter,omitempty"`
}

// HelpLink stores one entry of the notebook's help menu.
type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// KernelInfo is the content of a kernel_info_reply message.
type KernelInfo struct {
	ProtocolVersion       string             `json:"protocol_version"`
	Implementation        string             `json:"implementation"`
	ImplementationVersion string             `json:"implementation_version"`
	LanguageInfo          KernelLanguageInfo `json:"language_info"`
	Banner                string             `json:"banner"`
	HelpLinks             []HelpLink         `json:"help_links"`
}

// ShutdownReply is the content of a shutdown_reply message.
type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

// InterruptReply is the content of an interrupt_reply message. EName is
// only set on error, e.g. "NoProcess" when no Swift process exists.
type InterruptReply struct {
	Status string `json:"status"`
	EName  string `json:"ename,omitempty"`
}

// IsCompleteReply is the content of an is_complete_reply message.
type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent"`
}

// CompleteReply is the content of a complete_reply message. CursorStart and
// CursorEnd are expressed in Unicode code points, not bytes.
type CompleteReply struct {
	Status      string   `json:"status"`
	Matches     []string `json:"matches"`
	CursorStart int      `json:"cursor_start"`
	CursorEnd   int      `json:"cursor_end"`
	Metadata    MIMEMap  `json:"metadata"`
}
