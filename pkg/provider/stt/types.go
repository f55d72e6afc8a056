package stt

import "errors"

// ErrSessionClosed is returned by SendAudio after the session has ended.
var ErrSessionClosed = errors.New("stt: session is closed")
