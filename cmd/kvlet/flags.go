package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
// Empty values leave the loaded configuration untouched.
type GlobalFlags struct {
	ConfigPath string
	Home       string
	DSN        string
	LogLevel   string
	Output     string
	Timeout    time.Duration
	// Remote server connection; when set, commands go through the HTTP API
	APIUrl    string
	APICACert string
}

// SetFlags Flag structs to decouple cobra from logic for testing.
type SetFlags struct {
	Key    string
	State  string
	Info   string
	Method string
	URL    string
}

type GetFlags struct {
	Key    string
	Method string
	URL    string
}

type ListFlags struct {
	Num   int
	State string
}

type ServeFlags struct {
	Listen string
	Base   string
}
