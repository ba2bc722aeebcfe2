// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !unix

package poll

import "time"

// wait is not available without poll(2).
func wait(_ []int, _ time.Duration) ([]Status, error) {
	return nil, ErrUnsupported
}
