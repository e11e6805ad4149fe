// SPDX-License-Identifier: AGPL-3.0-or-later

package proxy

import "errors"

// ErrFrameError covers a malformed header, an impossible length, or a
// truncated marker: fatal for the session.
var ErrFrameError = errors.New("proxy: frame error")

// ErrDecompressError covers a failure of the streaming decompressor:
// fatal for the session.
var ErrDecompressError = errors.New("proxy: decompress error")

// ErrInjectError covers a write failure to a transport mid-injection:
// treated as session close.
var ErrInjectError = errors.New("proxy: inject error")
