// Package storage defines persistence contracts for the resource server.
//
// The recipe and shopping records here are deliberately thin: the resource
// server stores and lists what tools hand it, it never interprets markup or
// aggregates quantities.
package storage
