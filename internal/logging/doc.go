// Package logger provides levelled logging for cage commands and the engine.
//
// The logger supports multiple verbosity levels controlled by command-line
// flags. Prefixes are coloured with fatih/color, which honours NO_COLOR.
//
// # Verbosity Levels
//
//   - --verbose: Shows info and warning messages
//   - --debug: Shows all messages including debug details and errors
//
// Without flags, only critical warnings are shown.
//
// # Log Methods
//
//	Logger.Infof()           // Shown with --verbose or --debug
//	Logger.Debugf()          // Shown only with --debug
//	Logger.Warnf()           // Shown with --verbose or --debug
//	Logger.WarnfAlways()     // Always shown (critical warnings)
//	Logger.Errorf()          // Shown with --debug
//	Logger.ErrorfAndReturn() // Errorf, then returns the message as an error
//
// The zero Logger is silent except for WarnfAlways, which makes it safe to
// embed in engine and recovery types that are constructed without flags.
package logger
