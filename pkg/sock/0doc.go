// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sock provides the connection primitive the rest of SunNet is built
// upon: a synchronous byte-stream socket which can send, receive, connect,
// bind, listen and accept.
//
// All operations of a Connection block the calling goroutine. A Connection
// additionally exposes its file descriptor, which allows the poll package to
// multiplex many Connections within a single wait.
//
// New Connections are created from a Config, which replaces a captured
// constructor: an endpoint stores its Config and creates a fresh Connection
// each time it is (re)opened.
package sock
