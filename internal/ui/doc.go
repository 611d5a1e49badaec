// Package ui formats cage's terminal output.
//
// Each Formatter names a kind of content rather than a colour:
//
//	ui.Path.Sprint("secrets.env.age")
//	ui.Highlight.Sprint("ops-emergency")
//	ui.Code.Sprint("cage backup list")
//
// Output is coloured through fatih/color. When NO_COLOR is set or the
// terminal cannot show colour, Code falls back to `backticks`, Highlight
// to 'quotes' and Muted to (parentheses). The rest print unchanged.
package ui
