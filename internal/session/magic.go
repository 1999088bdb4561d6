package session

// MagicKind identifies which of the recognized directives a
// Directive carries. It is a closed set; anything else is a preprocessor
// error.
type MagicKind int

const (
	MagicInstall MagicKind = iota
	MagicInstallSwiftPMFlags
	MagicInstallExtraIncludeCommand
	MagicInstallLocation
	MagicInclude
	MagicSwiftLibraryPath
	MagicSwiftModulePath
	MagicSwiftFrameworkPath
	MagicSwiftLink
	MagicSwiftFlags
	MagicSwiftEnv
	MagicSwiftConfig
	MagicSwiftIRSetup
	MagicHelp
	MagicLsmagic
	MagicWho
	MagicReset
	MagicTimeit
	MagicEnv
	MagicSwiftVersion
	MagicLoad
	MagicSave
	MagicHistory
	MagicEnableCompletion
	MagicDisableCompletion
)

// InstallClass reports whether kind is one of the install-class
// directives. At most one install-class directive may appear in a cell,
// and none may appear after Swift has successfully executed in the
// session.
func (k MagicKind) InstallClass() bool {
	switch k {
	case MagicInstall, MagicInstallSwiftPMFlags, MagicInstallExtraIncludeCommand, MagicInstallLocation:
		return true
	}
	return false
}

// SessionOperator reports whether kind is handled entirely by the
// preprocessor itself, short-circuiting cell execution.
func (k MagicKind) SessionOperator() bool {
	switch k {
	case MagicHelp, MagicLsmagic, MagicWho, MagicReset, MagicTimeit, MagicEnv,
		MagicSwiftVersion, MagicLoad, MagicSave, MagicHistory,
		MagicEnableCompletion, MagicDisableCompletion, MagicSwiftConfig:
		return true
	}
	return false
}

// PackageSpec names one dependency of an *install package* directive: a
// SwiftPM dependency specification plus the product names to link.
type PackageSpec struct {
	DependencySpec string
	Products       []string
}

// Directive is one parsed magic line, tagged by Kind with only the
// payload field relevant to that kind populated.
type Directive struct {
	Kind MagicKind
	Line string // original source line, for diagnostics
	Args []string

	// Populated for MagicInstall.
	Package *PackageSpec
	// Populated for MagicInstallSwiftPMFlags, MagicSwiftFlags,
	// MagicSwiftIRSetup.
	Flags string
	// Populated for MagicInstallExtraIncludeCommand.
	ShellCommand string
	// Populated for MagicInstallLocation, MagicInclude,
	// MagicSwiftLibraryPath, MagicSwiftModulePath, MagicSwiftFrameworkPath.
	Path string
	// Populated for MagicSwiftLink.
	Symbol string
	// Populated for MagicSwiftEnv.
	EnvKey, EnvValue string
	// Populated for MagicTimeit: iteration override, 0 means "auto".
	Iterations int
	// Populated for MagicLoad/MagicSave: history file path.
	HistoryPath string
}
