// Package tui renders a live, full-screen view of one deployment run.
//
// The model starts from a run snapshot, folds engine events into it as they
// arrive and replaces it with the recorded state once the run settles.
// Components are grouped by wave; in-flight components show a spinner.
// Log entries from pkg/logging are shown in a scrollable pane.
package tui
