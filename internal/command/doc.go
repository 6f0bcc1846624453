// Package command translates dashboard commands into automation-server
// service calls.
//
// Toggle-style commands read the current remote state to decide
// direction; cached state is never trusted for that decision. Commands
// carrying a numeric value validate it before any network call.
package command
