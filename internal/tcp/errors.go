package tcp

import "errors"

var ErrNotListening = errors.New("tcp server is not listening")
