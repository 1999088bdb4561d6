package preprocessor

import "github.com/swiftkernel/swiftkernel/internal/session"

// magicNames maps the recognized directive name to its kind.
// Adding a new magic is one table entry plus a parser case in
// parseDirective.
var magicNames = map[string]session.MagicKind{
	"%install":                         session.MagicInstall,
	"%install-swiftpm-flags":           session.MagicInstallSwiftPMFlags,
	"%install-extra-include-command":   session.MagicInstallExtraIncludeCommand,
	"%install-location":                session.MagicInstallLocation,
	"%include":                         session.MagicInclude,
	"%swift_library_path":              session.MagicSwiftLibraryPath,
	"%swift_module_path":               session.MagicSwiftModulePath,
	"%swift_framework_path":            session.MagicSwiftFrameworkPath,
	"%swift_link":                      session.MagicSwiftLink,
	"%swift_flags":                     session.MagicSwiftFlags,
	"%swift_env":                       session.MagicSwiftEnv,
	"%swift_config":                    session.MagicSwiftConfig,
	"%swiftir_setup":                   session.MagicSwiftIRSetup,
	"%help":                            session.MagicHelp,
	"%lsmagic":                         session.MagicLsmagic,
	"%who":                             session.MagicWho,
	"%reset":                           session.MagicReset,
	"%timeit":                          session.MagicTimeit,
	"%env":                             session.MagicEnv,
	"%swift-version":                   session.MagicSwiftVersion,
	"%load":                            session.MagicLoad,
	"%save":                            session.MagicSave,
	"%history":                         session.MagicHistory,
	"%enable_completion":               session.MagicEnableCompletion,
	"%disable_completion":              session.MagicDisableCompletion,
}

// lsmagicHelp is the canned response to %help / %lsmagic.
const lsmagicHelp = `Available magics:
  %install <spec> <product...>          install a SwiftPM package
  %install-swiftpm-flags <flags>        extra flags for the package builder
  %install-extra-include-command <cmd>  command whose stdout yields -I flags
  %install-location <path>              override build-artifact root
  %include <file>                       splice a helper file into this cell
  %swift_library_path <path>            prepend a dynamic-loader search path
  %swift_module_path <path>             append a Swift module search path
  %swift_framework_path <path>          append a framework search path
  %swift_link <symbol>                  require a symbol resolvable post-load
  %swift_flags <flags>                  extra Swift compiler flags
  %swift_env <K> <V>                    set an environment variable
  %swift_config                         show the resolved kernel configuration
  %swiftir_setup <flags>                same as %swift_flags (no env or config step)
  %who                                  list declarations seen this session
  %reset                                tear down and relaunch the Swift process
  %timeit [N]                           time the cell's execution
  %env                                  print the kernel process environment
  %swift-version                        print the REPL's Swift version
  %load <path>                          print a saved cell file (not executed)
  %save <path>                          save session history to a file
  %history                              print session history
  %enable_completion / %disable_completion
  %help / %lsmagic                      show this message
`
