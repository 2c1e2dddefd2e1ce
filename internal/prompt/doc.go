// Package prompt recognizes when a remote interactive shell has returned to
// an idle, input-ready state.
//
// A PTY byte stream interleaves echoed input, command output, terminal
// redraws and the shell prompt itself. The matcher works on the final visual
// content of that stream: control sequences are stripped, carriage-return and
// backspace overwrites are resolved, and only the last visual line is
// compared against the configured patterns. A Waiter additionally requires
// the stream to have been quiet for a configurable interval before a match
// is accepted, so a prompt-shaped string inside log output that is still
// scrolling is never taken for the real prompt.
//
// This is a heuristic. Heavily customized prompts (multi-line PS1, right
// prompts, prompts that redraw on a timer) need a pattern written for them.
package prompt
