package main

import "github.com/alecthomas/kong"

type DocCmd struct{}

// Run prints the full command tree as markdown, via the same
// MarkdownHelpPrinter the parser otherwise only calls for --help. Kong
// injects *kong.Context into Run automatically alongside our own
// *Context, so this needs no separate plumbing from main.
func (c *DocCmd) Run(kctx *kong.Context, cctx *Context) error {
	return MarkdownHelpPrinter(kong.HelpOptions{}, kctx)
}
